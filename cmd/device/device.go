/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package device

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shirok1/go-livox/pkg/command"
	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/layers"
)

const (
	RollOptionName  = "roll"
	PitchOptionName = "pitch"
	YawOptionName   = "yaw"
	XOptionName     = "x"
	YOptionName     = "y"
	ZOptionName     = "z"
)

func NewCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Query the connected device",
	}
	cmd.AddCommand(NewInfoCommand(cfg))
	cmd.AddCommand(NewExtrinsicCommand(cfg))
	return cmd
}

func NewInfoCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print device firmware version",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := command.NewApiClient(cfg).DeviceInfo()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Firmware: %s\n", info.Firmware)
			return nil
		},
	}
}

func NewExtrinsicCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extrinsic",
		Short: "Print the mounting extrinsic stored on the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := command.NewApiClient(cfg).ReadExtrinsic()
			if err != nil {
				return err
			}
			return command.PrintYAML(cmd.OutOrStdout(), e)
		},
	}
	cmd.AddCommand(NewSetExtrinsicCommand(cfg))
	return cmd
}

func NewSetExtrinsicCommand(cfg *config.Config) *cobra.Command {
	e := layers.Extrinsic{}
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Write the mounting extrinsic to the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return command.NewApiClient(cfg).WriteExtrinsic(e)
		},
	}
	cmd.Flags().Float32Var(&e.Roll, RollOptionName, 0, "Roll, degrees")
	cmd.Flags().Float32Var(&e.Pitch, PitchOptionName, 0, "Pitch, degrees")
	cmd.Flags().Float32Var(&e.Yaw, YawOptionName, 0, "Yaw, degrees")
	cmd.Flags().Int32Var(&e.X, XOptionName, 0, "X offset, mm")
	cmd.Flags().Int32Var(&e.Y, YOptionName, 0, "Y offset, mm")
	cmd.Flags().Int32Var(&e.Z, ZOptionName, 0, "Z offset, mm")
	return cmd
}

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

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shirok1/go-livox/cmd/completion"
	"github.com/shirok1/go-livox/cmd/config"
	"github.com/shirok1/go-livox/cmd/device"
	"github.com/shirok1/go-livox/cmd/discover"
	"github.com/shirok1/go-livox/cmd/sampling"
	"github.com/shirok1/go-livox/cmd/serve"
	"github.com/shirok1/go-livox/cmd/session"
	"github.com/shirok1/go-livox/cmd/simulate"
	pkgconfig "github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/log"
)

const (
	LogLevelOptionName = "log-level"
)

func NewRootCommand(out io.Writer) *cobra.Command {
	var logLevel string
	cfg := pkgconfig.NewDefaultConfig()
	if err := cfg.Load(); err != nil {
		log.Warning("Error while loading config %s: %s", cfg.Path(), err)
	}
	cmd := &cobra.Command{
		Use:          "go-livox",
		Short:        "Tool to work with Livox LiDAR devices",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			log.Init(cmd.ErrOrStderr(), cfg.LogLevel)
		},
	}
	cmd.SetOut(out)
	cmd.AddCommand(config.NewCommand(cfg))
	cmd.AddCommand(serve.NewCommand(cfg))
	cmd.AddCommand(discover.NewCommand(cfg))
	cmd.AddCommand(session.NewCommand(cfg))
	cmd.AddCommand(sampling.NewCommand(cfg))
	cmd.AddCommand(device.NewCommand(cfg))
	cmd.AddCommand(simulate.NewCommand(cfg))
	cmd.AddCommand(completion.NewCommand())
	cmd.PersistentFlags().StringVar(&logLevel, LogLevelOptionName, "", fmt.Sprintf("Log level. %s", log.HelpLevels))
	return cmd
}

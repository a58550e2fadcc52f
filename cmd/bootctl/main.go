// Copyright (c) 2022 individual contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// <https://www.apache.org/licenses/LICENSE-2.0>
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command bootctl inspects EFI boot variables and runs the boot manager
// against them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bmcpi/efiboot/internal/config"
	"github.com/bmcpi/efiboot/internal/otel"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// GitRev is the git revision of the build. It is set by the Makefile.
var GitRev = "unknown (use make)"

type app struct {
	v          *viper.Viper
	fs         afero.Fs
	configFile string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), fs: afero.NewOsFs()}

	root := &cobra.Command{
		Use:           "bootctl",
		Short:         "Inspect EFI boot options and resolve the boot order",
		Version:       GitRev,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfig(a.v, a.configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "config file (default is ./config.yaml or /etc/efiboot/config.yaml)")
	flags.String("store-type", "efivarfs", "variable store: efivarfs, json or edk2")
	flags.StringP("store-path", "s", "", "efivarfs directory, JSON variable list or firmware image")
	flags.String("log-level", "info", "log level: debug or info")
	for key, name := range map[string]string{
		"store.type": "store-type",
		"store.path": "store-path",
		"log_level":  "log-level",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		a.bootCmd(),
		a.listCmd(),
		a.showCmd(),
		a.orderCmd(),
	)
	return root
}

func main() {
	ctx, done := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
	)
	defer done()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "bootctl:", err)
		os.Exit(1)
	}
}

// tracing starts the exporter configured for the boot command.
func (a *app) tracing(ctx context.Context) (context.Context, func(), error) {
	return otel.Init(ctx, otel.Config{
		Servicename: "bootctl",
		Endpoint:    a.cfg.Otel.Endpoint,
		Insecure:    a.cfg.Otel.Insecure,
		Logger:      a.cfg.Log,
	})
}

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/bmcpi/efiboot/internal/bootmgr"
	"github.com/bmcpi/efiboot/internal/firmware/efi"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func (a *app) manager(opts ...bootmgr.Option) (*bootmgr.Manager, *store, error) {
	s, err := openStore(a.fs, a.cfg.Store, a.cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	opts = append([]bootmgr.Option{
		bootmgr.WithLogger(a.cfg.Log),
		bootmgr.WithBootNext(a.cfg.Store.BootNext),
	}, opts...)
	return bootmgr.New(s.VarStore, newLoader(a.fs, a.cfg.Loader, a.cfg.Log), opts...), s, nil
}

func (a *app) bootCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Load the image selected by BootNext or BootOrder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx, shutdown, err := a.tracing(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown()

			reg := prometheus.NewRegistry()
			m, s, err := a.manager(bootmgr.WithRegisterer(reg))
			if err != nil {
				return err
			}
			_, pending := m.BootNext()

			res, err := m.Load(ctx)
			if pending && a.cfg.Store.BootNext && s.save != nil {
				err = multierr.Append(err, s.save())
			}
			if path := a.cfg.Metrics.Textfile; path != "" {
				err = multierr.Append(err, prometheus.WriteToTextfile(path, reg))
			}
			if res == nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %q loaded from %s (%d bytes)\n",
				res.Name, res.Option.Description(), res.Image.Source, res.Image.Size)
			fmt.Fprintf(w, "  device path: %s\n", res.DevicePath)
			fmt.Fprintf(w, "  file path:   %s\n", res.FilePath.FilePathString())
			if output != "" {
				err = multierr.Append(err, afero.WriteFile(a.fs, output, res.Image.Data, 0o644))
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the loaded image to this file")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the boot options named by BootOrder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, _, err := a.manager()
			if err != nil {
				return err
			}
			entries, err := m.Entries()
			if err != nil {
				return err
			}
			next, hasNext := m.BootNext()

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Option", "Flags", "Description", "Path", "Data"})
			for _, e := range entries {
				name := e.Name
				if hasNext && e.ID == next {
					name += "*"
				}
				if e.Err != nil {
					t.AppendRow(table.Row{name, "", "", "error: " + e.Err.Error(), ""})
					continue
				}
				t.AppendRow(table.Row{
					name,
					e.Option.AttributeFlags(),
					e.Option.Description(),
					pathString(e.Option.FilePath),
					dataString(e.Option.OptionalData),
				})
			}
			t.Render()
			return nil
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show BOOT####",
		Short: "Decode a single boot option",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOptionID(args[0])
			if err != nil {
				return err
			}
			m, _, err := a.manager()
			if err != nil {
				return err
			}
			opt, err := m.LoadOption(id)
			if err != nil {
				return fmt.Errorf("%s: %w", efi.BootOptionName(id), err)
			}
			printOption(cmd.OutOrStdout(), id, opt)
			return nil
		},
	}
}

func (a *app) orderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Print BootNext and BootOrder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, s, err := a.manager()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if next, ok := m.BootNext(); ok {
				fmt.Fprintf(w, "BootNext: %04X\n", next)
			}
			order, err := bootmgr.ReadBootOrder(s.VarStore)
			if err != nil {
				return err
			}
			ids := make([]string, len(order))
			for i, id := range order {
				ids[i] = fmt.Sprintf("%04X", id)
			}
			fmt.Fprintf(w, "BootOrder: %s\n", strings.Join(ids, ","))
			return nil
		},
	}
}

// parseOptionID accepts Boot0001 as well as the bare hex identifier.
func parseOptionID(arg string) (uint16, error) {
	if id, ok := efi.ParseBootOptionName(arg); ok {
		return id, nil
	}
	id, err := strconv.ParseUint(arg, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid boot option %q", arg)
	}
	return uint16(id), nil
}

func printOption(w io.Writer, id uint16, opt *efi.LoadOption) {
	fmt.Fprintf(w, "%s\n", efi.BootOptionName(id))
	fmt.Fprintf(w, "  attributes:  %s (0x%08x)\n", opt.AttributeFlags(), opt.Attributes)
	fmt.Fprintf(w, "  description: %s\n", opt.Description())

	paths, err := opt.DevicePaths()
	if err != nil {
		fmt.Fprintf(w, "  file path:   %x (%v)\n", opt.FilePath, err)
	}
	for i, dp := range paths {
		fmt.Fprintf(w, "  file path %d: %s\n", i, dp)
	}
	if initrd, ok := opt.InitrdPath(); ok {
		fmt.Fprintf(w, "  initrd:      %s\n", initrd.FilePathString())
	}
	if len(opt.OptionalData) > 0 {
		fmt.Fprintf(w, "  data:        %s\n", dataString(opt.OptionalData))
	}
}

func pathString(raw []byte) string {
	dp, err := efi.ParseDevicePath(raw)
	if err != nil {
		return hex.EncodeToString(raw)
	}
	return dp.String()
}

// dataString prints optional data as text when it looks like a command line.
func dataString(data []byte) string {
	s := string(data)
	for _, r := range s {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			return hex.EncodeToString(data)
		}
	}
	return s
}

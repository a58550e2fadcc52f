package main

import (
	"github.com/bmcpi/efiboot/internal/config"
	"github.com/bmcpi/efiboot/internal/loader"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
)

func newLoader(fs afero.Fs, c config.LoaderConfig, log logr.Logger) *loader.Chain {
	named := log.WithName("loader")

	ro := afero.NewReadOnlyFs(fs)
	volumes := make(map[string]afero.Fs, len(c.Volumes))
	for prefix, dir := range c.Volumes {
		volumes[prefix] = afero.NewBasePathFs(ro, dir)
	}
	disk := &loader.FS{
		Volumes:   volumes,
		RequirePE: c.RequirePE,
		Logger:    named.WithName("fs"),
	}
	if c.DefaultVolume != "" {
		disk.Default = afero.NewBasePathFs(ro, c.DefaultVolume)
	}

	maxSize := c.HTTP.MaxImageSize
	if maxSize == 0 {
		maxSize = loader.DefaultMaxImageSize
	}
	web := loader.NewHTTP(c.HTTP.Timeout, maxSize, named.WithName("http"))
	tftp := &loader.TFTP{
		Server:       c.TFTP.Server,
		Timeout:      c.TFTP.Timeout,
		Retries:      c.TFTP.Retries,
		MaxImageSize: maxSize,
		Logger:       named.WithName("tftp"),
	}

	return loader.NewChain(log, disk, web, tftp)
}

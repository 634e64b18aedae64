package packaging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/cochaviz/uupiso/internal/request"
	"github.com/cochaviz/uupiso/internal/resolve"
)

const (
	ConfigFileName = "ConvertConfig.ini"

	convertSection = "convert-UUP"
	virtualSection = "create_virtual_editions"
)

// iniFormatMu guards the ini package's formatting globals while saving.
var iniFormatMu sync.Mutex

// Options are the conversion switches taken from a request.
type Options struct {
	ESD            bool
	Drivers        bool
	NetFx3         bool
	VirtualEdition string
}

// OptionsFor derives the conversion options of a request and its selected build.
func OptionsFor(cfg request.Config, build resolve.SelectedBuild) Options {
	return Options{
		ESD:            cfg.ESD,
		Drivers:        cfg.Drivers,
		NetFx3:         cfg.NetFx3,
		VirtualEdition: build.VirtualEdition,
	}
}

// Configure rewrites ConvertConfig.ini in dir so the conversion runs
// unattended with opts applied.
func Configure(dir string, opts Options) error {
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s not found in package", ConfigFileName)
		}
		return err
	}

	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, path)
	if err != nil {
		return fmt.Errorf("parse %s: %w", ConfigFileName, err)
	}

	convert := file.Section(convertSection)
	convert.Key("AutoExit").SetValue("1")
	convert.Key("SkipWinRE").SetValue("1")
	convert.Key("wim2esd").SetValue(flag(opts.ESD))
	convert.Key("NetFx3").SetValue(flag(opts.NetFx3))
	convert.Key("AddDrivers").SetValue(flag(opts.Drivers))
	convert.Key("StartVirtual").SetValue(flag(opts.VirtualEdition != ""))

	if opts.VirtualEdition != "" {
		virtual := file.Section(virtualSection)
		virtual.Key("vAutoStart").SetValue("1")
		virtual.Key("vAutoEditions").SetValue(opts.VirtualEdition)
		virtual.Key("vDeleteSource").SetValue("1")
	}

	if err := saveCompact(file, path); err != nil {
		return fmt.Errorf("write %s: %w", ConfigFileName, err)
	}
	return nil
}

func flag(enabled bool) string {
	if enabled {
		return "1"
	}
	return "0"
}

// saveCompact writes key=value pairs without the padding the conversion
// scripts cannot parse, restoring the ini formatting setting afterwards.
func saveCompact(file *ini.File, path string) error {
	iniFormatMu.Lock()
	defer iniFormatMu.Unlock()

	pretty := ini.PrettyFormat
	ini.PrettyFormat = false
	defer func() { ini.PrettyFormat = pretty }()

	return file.SaveTo(path)
}

package main

import (
	"fmt"
	"os"

	"github.com/jsccast/yaml"

	"github.com/statewire/statewire/state"
)

// Config describes a state tree to serve.  Cell values should be
// scalars; use nested blocks for structure.
//
// Example:
//
//	cells:
//	  - name: label
//	    value: workbench
//	    writable: true
//	blocks:
//	  - name: heater
//	    cells:
//	      - name: target
//	        value: 20.5
//	        writable: true
//	        doc: Target temperature in C.
type Config struct {
	Cells  []CellConfig  `yaml:"cells"`
	Blocks []BlockConfig `yaml:"blocks"`
}

type CellConfig struct {
	Name      string      `yaml:"name"`
	Value     interface{} `yaml:"value"`
	Writable  bool        `yaml:"writable"`
	Ephemeral bool        `yaml:"ephemeral"`
	Doc       string      `yaml:"doc"`
}

type BlockConfig struct {
	Name   string        `yaml:"name"`
	Cells  []CellConfig  `yaml:"cells"`
	Blocks []BlockConfig `yaml:"blocks"`
}

func loadConfig(filename string) (*Config, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var config Config
	if err := yaml.Unmarshal(bs, &config); err != nil {
		return nil, fmt.Errorf("config %s: %v", filename, err)
	}
	return &config, nil
}

func buildCells(cellConfigs []CellConfig, blockConfigs []BlockConfig) ([]state.Cell, error) {
	var cells []state.Cell
	for _, cc := range cellConfigs {
		if cc.Name == "" {
			return nil, fmt.Errorf("cell with no name")
		}
		var opts []state.LooseCellOpt
		if cc.Writable {
			opts = append(opts, state.Writable())
		}
		if cc.Ephemeral {
			opts = append(opts, state.Ephemeral())
		}
		if cc.Doc != "" {
			opts = append(opts, state.Doc(cc.Doc))
		}
		cells = append(cells, state.NewLooseCell(cc.Name, cc.Value, opts...))
	}
	for _, bc := range blockConfigs {
		if bc.Name == "" {
			return nil, fmt.Errorf("block with no name")
		}
		inner, err := buildCells(bc.Cells, bc.Blocks)
		if err != nil {
			return nil, err
		}
		cells = append(cells, state.NewBlockCell(bc.Name, state.NewGroup(inner...)))
	}
	return cells, nil
}

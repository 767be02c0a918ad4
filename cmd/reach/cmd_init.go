// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var errConfigExists = errors.New("configuration file already exists (use --force)")

type initOptions struct {
	output  string
	noInput bool
	force   bool
	cfg     *config.Config
}

func newInitCmd(g *globalOptions) *cobra.Command {
	opts := &initOptions{cfg: config.Default()}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file interactively",
		Long: `Prompt for the analysis settings and write them as YAML. Flags pre-fill
the form; with --no-input the flags are written without prompting.

Examples:
  reach init
  reach init -o reach.yaml --no-input --class-path model.yaml \
    --trace dumps/2024-03-05_14-07-09__com.acme.Script1__.txt \
    --entry "<com.acme.Server: void handle(java.lang.String)>" \
    --sink "<java.lang.Runtime: java.lang.Process exec(java.lang.String)>" \
    --main "<com.acme.Main: void main(java.lang.String[])>"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, g, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", DefaultConfigPath, "File to write")
	f.BoolVar(&opts.noInput, "no-input", false, "Write the flag values without prompting")
	f.BoolVar(&opts.force, "force", false, "Overwrite an existing file")
	f.StringVar(&opts.cfg.ClassPath, "class-path", "", "Program model, Java source tree or Go module")
	f.StringVar(&opts.cfg.RuntimeTraceFilePath, "trace", "", "Runtime trace dump")
	f.StringVar(&opts.cfg.OutputDirPath, "output-dir", config.DefaultOutputDir, "Directory for the .dot and .json outputs")
	f.StringVar(&opts.cfg.CallGraphAlgo, "algo", config.DefaultCallGraphAlgo, "Call graph algorithm (cha, rta)")
	f.StringVar(&opts.cfg.MainMethodSig, "main", "", "Main method signature (RTA root)")
	f.StringVar(&opts.cfg.EntryPointMethodSig, "entry", "", "Entry point method signature")
	f.StringVar(&opts.cfg.SinkMethodSig, "sink", "", "Sink method signature")
	f.StringVar(&opts.cfg.Frontend, "frontend", config.DefaultFrontend, "Program frontend (auto, model, java, go)")
	return cmd
}

func runInit(cmd *cobra.Command, g *globalOptions, opts *initOptions) error {
	if !opts.force {
		if _, err := os.Stat(opts.output); err == nil {
			return fmt.Errorf("%s: %w", opts.output, errConfigExists)
		}
	}

	cfg := opts.cfg
	if !opts.noInput {
		form := newInitForm(cfg).
			WithInput(cmd.InOrStdin()).
			WithOutput(cmd.ErrOrStderr())
		if err := form.RunWithContext(cmd.Context()); err != nil {
			return fmt.Errorf("init form: %w", err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Write(opts.output); err != nil {
		return err
	}
	g.logger.Info("configuration written", slog.String("path", opts.output))
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.output)
	return nil
}

// newInitForm binds a form to cfg's fields.
func newInitForm(cfg *config.Config) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Program").
				Description("Program model (.yaml/.json), Java source tree or Go module").
				Value(&cfg.ClassPath).
				Validate(required("class path")),
			huh.NewSelect[string]().
				Title("Frontend").
				Options(
					huh.NewOption("Detect from class path", config.FrontendAuto),
					huh.NewOption("Program model", config.FrontendModel),
					huh.NewOption("Java sources", config.FrontendJava),
					huh.NewOption("Go module", config.FrontendGo),
				).
				Value(&cfg.Frontend),
			huh.NewInput().
				Title("Runtime trace").
				Description("Dump named <yyyy-MM-dd_HH-mm-ss>__<class>__.txt").
				Value(&cfg.RuntimeTraceFilePath).
				Validate(required("runtime trace")),
			huh.NewInput().
				Title("Output directory").
				Value(&cfg.OutputDirPath),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Call graph algorithm").
				Options(
					huh.NewOption("RTA (rooted at main)", "rta"),
					huh.NewOption("CHA (rooted at the entry point)", "cha"),
				).
				Value(&cfg.CallGraphAlgo),
			huh.NewInput().
				Title("Main method").
				Description("Required for RTA").
				Value(&cfg.MainMethodSig).
				Validate(optionalSignature),
			huh.NewInput().
				Title("Entry point").
				Value(&cfg.EntryPointMethodSig).
				Validate(signature),
			huh.NewInput().
				Title("Sink").
				Value(&cfg.SinkMethodSig).
				Validate(signature),
			huh.NewSelect[string]().
				Title("Default filter policy").
				Options(
					huh.NewOption("Allow unmatched methods", "allow"),
					huh.NewOption("Deny unmatched methods", "deny"),
				).
				Value(&cfg.FilterDefaultPolicy),
		),
	)
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func signature(s string) error {
	_, err := sig.ParseMethod(s)
	return err
}

func optionalSignature(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return signature(s)
}

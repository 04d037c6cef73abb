// The atelier CLI synthesizes deployment templates for the framework's
// own resources and verifies table definitions.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/atelierhq/atelier/cloudformation"
)

func main() {
	synthCmd := flag.NewFlagSet("synth", flag.ExitOnError)
	appName := synthCmd.String("app", "", "application name")
	deploymentID := synthCmd.String("deployment", "dev", "deployment id")
	withSettings := synthCmd.Bool("settings", true, "include the global settings table")
	withEventBus := synthCmd.Bool("event-bus", true, "include the event bus queue and tables")
	withTrap := synthCmd.Bool("exception-trap", true, "include the trapped exceptions table")
	withRegistry := synthCmd.Bool("resource-registry", false, "include the resource registry table")
	protected := synthCmd.Bool("protected", false, "enable deletion protection and point in time recovery on tables")
	outPath := synthCmd.String("out", "", "write the template to a file instead of stdout")

	if len(os.Args) < 2 {
		fmt.Println("expected commands: synth")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "synth":
		synthCmd.Parse(os.Args[2:])
		if *appName == "" {
			fmt.Println("error: -app flag is required")
			os.Exit(1)
		}
		opts := synthOptions(*withSettings, *withEventBus, *withTrap, *withRegistry, *protected)
		runSynth(*appName, *deploymentID, opts, *outPath)
	default:
		fmt.Println("unknown command")
		os.Exit(1)
	}
}

func synthOptions(withSettings, withEventBus, withTrap, withRegistry, protected bool) []cloudformation.SynthesizerOption {
	var opts []cloudformation.SynthesizerOption
	if withSettings {
		opts = append(opts, cloudformation.WithGlobalSettings())
	}
	if withEventBus {
		opts = append(opts, cloudformation.WithEventBus())
	}
	if withTrap {
		opts = append(opts, cloudformation.WithExceptionTrap())
	}
	if withRegistry {
		opts = append(opts, cloudformation.WithResourceRegistry())
	}
	if protected {
		opts = append(opts, cloudformation.WithTableOptions(
			cloudformation.WithDeletionProtection(),
			cloudformation.WithPointInTimeRecovery(),
		))
	}
	return opts
}

func runSynth(appName, deploymentID string, opts []cloudformation.SynthesizerOption, outPath string) {
	synth := cloudformation.NewSynthesizer(appName, deploymentID, opts...)

	tmpl, err := synth.Synthesize()
	if err != nil {
		fmt.Printf("error: synthesis failed: %v\n", err)
		os.Exit(1)
	}

	raw, err := tmpl.JSON()
	if err != nil {
		fmt.Printf("error: rendering template: %v\n", err)
		os.Exit(1)
	}

	if outPath == "" {
		fmt.Println(string(raw))
		return
	}

	if err := os.WriteFile(outPath, raw, 0o644); err != nil {
		fmt.Printf("error: writing %s: %v\n", outPath, err)
		os.Exit(1)
	}
	fmt.Printf("template written to %s\n", outPath)
}

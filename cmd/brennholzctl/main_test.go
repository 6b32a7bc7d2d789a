package main

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestCommandTree(t *testing.T) {
	a := newApp()

	names := map[string][]string{}
	for _, c := range a.Commands {
		var subs []string
		for _, s := range c.Subcommands {
			subs = append(subs, s.Name)
		}
		names[c.Name] = subs
	}
	require.Equal(t, []string{"up", "down", "version"}, names["migrate"])
	require.Equal(t, []string{"list", "replay"}, names["dlq"])
	require.Equal(t, []string{"invalidate"}, names["settings"])
	require.Contains(t, names, "reconcile-stock")
}

func TestMigrateDownDefaultsToOneStep(t *testing.T) {
	down := newApp().Command("migrate").Subcommands[1]
	require.Equal(t, "down", down.Name)

	var steps *cli.IntFlag
	for _, f := range down.Flags {
		if fl, ok := f.(*cli.IntFlag); ok && fl.Name == "steps" {
			steps = fl
		}
	}
	require.NotNil(t, steps)
	require.Equal(t, 1, steps.Value)
}

package main

import "testing"

func TestBuildRootCmd_RegistersSubcommands(t *testing.T) {
	root := buildRootCmd()
	want := map[string]bool{"serve": false, "migrate": false, "index [root-dir]": false, "call [operation] [json-params]": false, "restore": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Use]; ok {
			want[c.Use] = true
		}
	}
	for use, found := range want {
		if !found {
			t.Errorf("root command missing subcommand %q", use)
		}
	}
}

// ssadmin manages a sealed survey stored in a local directory: it sets up
// the ledger and its oracle, submits and verifies responses, aggregates the
// categories and serves everything over HTTP.
package main

import (
	"os"

	"go.dedis.ch/onet/v3/cfgpath"
	"go.dedis.ch/onet/v3/log"
	"gopkg.in/urfave/cli.v1"
)

var cliApp = cli.NewApp()

// getDataPath is a function pointer so that tests can hook and modify this.
var getDataPath = cfgpath.GetDataPath

var gitTag = "dev"

func init() {
	cliApp.Name = "ssadmin"
	cliApp.Usage = "Handle a sealed survey"
	cliApp.Version = gitTag
	cliApp.Commands = cmds // stored in "commands.go"
	cliApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "debug, d",
			Value: 0,
			Usage: "debug-level: 1 for terse, 5 for maximal",
		},
		cli.StringFlag{
			Name:   "config, c",
			EnvVar: "SS_CONFIG",
			Usage:  "path to configuration-directory",
		},
	}
	cliApp.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		return nil
	}
}

// configDir returns the directory given with --config, or the default one.
func configDir(c *cli.Context) string {
	if dir := c.GlobalString("config"); dir != "" {
		return dir
	}
	return getDataPath("ssadmin")
}

func main() {
	err := cliApp.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

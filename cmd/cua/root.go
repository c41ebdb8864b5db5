package main

import (
	"fmt"
	"os"
	"strings"

	"cua/internal/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// isTTY checks if stdout is attached to a terminal
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

type rootOptions struct {
	configPath string
	v          *viper.Viper
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.v, o.configPath)
}

// bind maps a command flag onto a config key so flag > env > file > default.
func (o *rootOptions) bind(cmd *cobra.Command, key, flag string) {
	if err := o.v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// NewRootCommand creates the root cobra command
func newRootCommand() *cobra.Command {
	opts := &rootOptions{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:   "cua",
		Short: "Reactive browser task execution engine",
		Long: fmt.Sprintf(`%s

cua runs natural-language browser tasks through a connected browser extension.
Each step observes the page, asks the model for one action, executes it and
verifies the result; failed attempts are retried with exponential backoff.

%s
  cua serve                          # Start the API and extension endpoint
  cua submit "search for golang"     # Submit a task
  cua submit --wait "open example"   # Submit and follow progress
  cua status task-1234               # Show task status`,
			bold("cua "+appVersion()),
			bold("EXAMPLES:")),
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			color.NoColor = color.NoColor || !isTTY()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default ./cua.yaml or $HOME/cua.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")
	if err := opts.v.BindPFlag("log.level", flags.Lookup("log-level")); err != nil {
		panic(err)
	}
	if err := opts.v.BindPFlag("log.format", flags.Lookup("log-format")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		newServeCommand(opts),
		newSubmitCommand(opts),
		newStatusCommand(opts),
		newVersionCommand(),
	)
	return rootCmd
}

// serverURL derives the client base URL from the listen address.
func serverURL(addr string) string {
	addr = strings.TrimSpace(addr)
	switch {
	case addr == "":
		addr = config.DefaultServerAddr
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if host, port, ok := strings.Cut(addr, ":"); ok && (host == "0.0.0.0" || host == "") {
		addr = "localhost:" + port
	}
	return "http://" + addr
}

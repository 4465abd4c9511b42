package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/automaxprocs/maxprocs"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/term"
)

// RunFunc is the entry point of a command once its options are loaded.
type RunFunc func() error

// App is a command line application backed by cobra, with flags, environment
// variables and an optional config file merged through viper.
type App struct {
	name        string
	shortDesc   string
	description string
	run         RunFunc
	args        cobra.PositionalArgs
	options     NamedFlagSetOptions
	silence     bool
	noConfig    bool
	watch       bool
	onReload    func(*viper.Viper)

	cfgFile string
	v       *viper.Viper
	cmd     *cobra.Command
}

// Option configures an App.
type Option func(*App)

func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.run = run }
}

func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithSilence suppresses the configuration dump on startup.
func WithSilence() Option {
	return func(a *App) { a.silence = true }
}

// WithNoConfig removes the --config flag.
func WithNoConfig() Option {
	return func(a *App) { a.noConfig = true }
}

// WithWatchConfig reloads the log level, and calls onReload if set,
// whenever the config file changes.
func WithWatchConfig(onReload func(*viper.Viper)) Option {
	return func(a *App) {
		a.watch = true
		a.onReload = onReload
	}
}

// WithDefaultValidArgs rejects any positional argument.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// NewApp creates an application named name.
func NewApp(name string, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
		v:         newViper(),
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	var fss cliflag.NamedFlagSets
	if a.options != nil {
		fss = a.options.Flags()
	}
	global := fss.FlagSet("global")
	if !a.noConfig {
		addConfigFlag(global, &a.cfgFile, a.name)
	}
	global.BoolP("help", "h", false, fmt.Sprintf("help for %s", a.name))
	for _, f := range fss.FlagSets {
		cmd.Flags().AddFlagSet(f)
	}

	if a.run != nil {
		cmd.RunE = a.runCommand
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, fss, cols)

	a.cmd = cmd
}

// Command returns the underlying cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the application and exits the process on error.
func (a *App) Run() {
	// GOMAXPROCS follows the container CPU quota when there is one.
	undo, _ := maxprocs.Set()
	defer undo()

	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1) //nolint:gocritic // exitAfterDefer
	}
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if !a.noConfig {
		if err := loadConfig(a.v, a.cfgFile, a.name); err != nil {
			return err
		}
	}

	if a.options != nil {
		if err := a.v.Unmarshal(a.options); err != nil {
			return fmt.Errorf("failed to decode configuration: %w", err)
		}
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}

	if !a.silence && a.v.ConfigFileUsed() != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Using config file %s\n", a.v.ConfigFileUsed())
		printConfig(cmd.OutOrStdout(), a.v)
	}

	if a.watch && a.v.ConfigFileUsed() != "" {
		watchConfig(a.v, a.onReload)
	}

	return a.run()
}

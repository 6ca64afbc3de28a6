package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	apiclient "github.com/splax/pagesdeploy/pkg/api/client"
)

var buildVersion = "dev"

const defaultConfigName = ".deployctl.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries per-invocation configuration so commands share no globals.
type cli struct {
	v       *viper.Viper
	cfgFile string
	stdin   *os.File
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), stdin: os.Stdin}
	c.v.SetDefault("server", apiclient.DefaultBaseURL)
	c.v.SetDefault("timeout", "5m")

	cmd := &cobra.Command{
		Use:           "deployctl",
		Short:         "Trigger and inspect static-site deployments",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}
	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/"+defaultConfigName+")")
	cmd.PersistentFlags().String("server", apiclient.DefaultBaseURL, "deploy server base URL")
	cmd.PersistentFlags().String("api-key", "", "deploy API key (overrides the config file)")
	cmd.PersistentFlags().Duration("timeout", 5*time.Minute, "request timeout")
	_ = c.v.BindPFlag("server", cmd.PersistentFlags().Lookup("server"))
	_ = c.v.BindPFlag("api_key", cmd.PersistentFlags().Lookup("api-key"))
	_ = c.v.BindPFlag("timeout", cmd.PersistentFlags().Lookup("timeout"))

	cmd.AddCommand(
		c.keyCmd(),
		c.deployCmd(),
		c.statusCmd(),
		c.historyCmd(),
		c.healthCmd(),
	)
	return cmd
}

// initConfig reads the config file and DEPLOYCTL_* environment variables. A
// missing default config file is not an error.
func (c *cli) initConfig() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			c.v.AddConfigPath(home)
		}
		c.v.AddConfigPath(".")
		c.v.SetConfigType("yaml")
		c.v.SetConfigName(strings.TrimSuffix(defaultConfigName, ".yaml"))
	}
	c.v.SetEnvPrefix("DEPLOYCTL")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if c.cfgFile != "" && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func (c *cli) client() (*apiclient.Client, error) {
	return apiclient.New(c.v.GetString("server"))
}

func (c *cli) context() (context.Context, context.CancelFunc) {
	timeout := c.v.GetDuration("timeout")
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (c *cli) configPath() (string, error) {
	if c.cfgFile != "" {
		return c.cfgFile, nil
	}
	if used := c.v.ConfigFileUsed(); used != "" {
		return used, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, defaultConfigName), nil
}

func (c *cli) keyCmd() *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Fetch the API key from a local server and store it in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			key, err := client.APIKey(ctx)
			if err != nil {
				return err
			}
			if printOnly {
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			}
			path, err := c.configPath()
			if err != nil {
				return err
			}
			c.v.Set("api_key", key)
			c.v.Set("server", c.v.GetString("server"))
			if err := c.v.WriteConfigAs(path); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			if err := os.Chmod(path, 0o600); err != nil {
				return fmt.Errorf("restrict config permissions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "api key saved to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the key instead of saving it")
	return cmd
}

func (c *cli) deployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Build, sync and push the site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := c.apiKey(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			resp, err := client.Deploy(ctx, token)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Message)
			fmt.Fprintf(out, "deployment %s finished at %s\n", resp.DeploymentID, resp.Timestamp)
			return nil
		},
	}
}

// apiKey resolves the key from flag, env or config, prompting on a terminal
// as a last resort.
func (c *cli) apiKey(prompt io.Writer) (string, error) {
	if key := strings.TrimSpace(c.v.GetString("api_key")); key != "" {
		return key, nil
	}
	fd := int(c.stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("api key required: run `deployctl key` on the server host or pass --api-key")
	}
	fmt.Fprint(prompt, "API key: ")
	secret, err := term.ReadPassword(fd)
	fmt.Fprint(prompt, "\n")
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	key := strings.TrimSpace(string(secret))
	if key == "" {
		return "", errors.New("api key required")
	}
	return key, nil
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last deployment outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			st, err := client.Status(ctx)
			if err != nil {
				return err
			}
			last := "never"
			if st.LastDeploy != nil {
				last = *st.LastDeploy
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "status:\t%s\n", st.LastStatus)
			fmt.Fprintf(w, "message:\t%s\n", st.LastMessage)
			fmt.Fprintf(w, "deploys:\t%d\n", st.DeployCount)
			fmt.Fprintf(w, "last deploy:\t%s\n", last)
			return w.Flush()
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent deployment attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			entries, err := client.History(ctx, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no deployments recorded")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tSTATUS\tSTAGE\tMESSAGE")
			for _, e := range entries {
				stage := e.Stage
				if stage == "" {
					stage = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID,
					e.StartedAt.Local().Format(time.DateTime),
					e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond),
					e.Status,
					stage,
					firstLine(e.Message),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to list (server default when 0)")
	return cmd
}

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the deploy server is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			h, err := client.Health(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (version %s) at %s\n", h.Status, h.Version, h.Timestamp)
			return nil
		},
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx] + " ..."
	}
	return s
}

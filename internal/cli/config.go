package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/semantic-memory/internal/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default settings",
		Run:   runConfigInit,
	}
	initCmd.Flags().String("path", "", "Destination (default: $XDG_CONFIG_HOME/semantic-memory/config.yaml)")
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Run:   runConfigShow,
	}

	cmd.AddCommand(initCmd, showCmd)
	RootCmd.AddCommand(cmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	path, _ := cmd.Flags().GetString("path")
	force, _ := cmd.Flags().GetBool("force")
	if path == "" {
		path = config.DefaultPath()
	}

	if err := config.DefaultConfig().Write(path, force); err != nil {
		exitErr("config init", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"path":%q}`+"\n", path)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	if cfg.Embed.APIKey != "" {
		cfg.Embed.APIKey = "***"
	}
	if cfg.Store.DSN != "" {
		cfg.Store.DSN = "***"
	}

	b, err := cfg.YAML()
	if err != nil {
		exitErr("config show", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(b))
}

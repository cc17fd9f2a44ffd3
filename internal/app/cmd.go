package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/hitoshi/ayurleaf/internal/config"
	"github.com/hitoshi/ayurleaf/internal/model"
	"github.com/hitoshi/ayurleaf/internal/plant"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandPlants は薬用植物カタログを表示することを示す。
	CommandPlants Command = "plants"
)

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドを省略した場合はserveとして起動する。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// NewRootCommand はayurleafのルートコマンドを生成する。
// wはログ出力先で、コマンドの標準出力とは別に扱う。
func NewRootCommand(w io.Writer) *cobra.Command {
	var (
		configFile string
		cfg        *config.Config
	)

	// loadConfig は設定を必要とするサブコマンドの共通前処理。
	loadConfig := func(cmd *cobra.Command, _ []string) error {
		c, err := Init(w, configFile)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		cfg = c

		name := cmd.Name()
		if cmd == cmd.Root() {
			name = string(CommandServe)
		}
		slog.Info("starting application",
			slog.String("command", name),
			slog.String("port", cfg.ServerPort),
			slog.String("base_url", cfg.BaseURL),
		)
		return nil
	}
	// skipConfig は設定を読まない軽量サブコマンド用。
	skipConfig := func(*cobra.Command, []string) error { return nil }

	root := &cobra.Command{
		Use:               "ayurleaf",
		Short:             "AyurLeaf AI - medicinal plant identification and chat service",
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
		RunE: func(*cobra.Command, []string) error {
			return runServe(cfg)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (YAML/TOML/JSON). Defaults to $"+config.ConfigFileEnv)

	serveCmd := &cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runServe(cfg)
		},
	}

	workerCmd := &cobra.Command{
		Use:   string(CommandWorker),
		Short: "Run the expired-session cleanup worker (requires DATABASE_URL)",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runWorker(cfg)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply database migrations (requires DATABASE_URL)",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runMigrate(cfg)
		},
	}

	var port string
	healthcheckCmd := &cobra.Command{
		Use:               string(CommandHealthcheck),
		Short:             "Check the local /health endpoint",
		Args:              cobra.NoArgs,
		PersistentPreRunE: skipConfig,
		RunE: func(*cobra.Command, []string) error {
			return runHealthcheck(port)
		},
	}
	healthcheckCmd.Flags().StringVar(&port, "port", envOrDefault("SERVER_PORT", "8080"), "server port to check")

	var compare bool
	plantsCmd := &cobra.Command{
		Use:               string(CommandPlants) + " [name]",
		Short:             "Print the medicinal plant catalog, or one plant by name",
		Args:              cobra.MaximumNArgs(1),
		PersistentPreRunE: skipConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case compare:
				printModelComparison(cmd.OutOrStdout())
			case len(args) == 1:
				p, ok := plant.Lookup(args[0])
				if !ok {
					return fmt.Errorf("unknown plant: %s", args[0])
				}
				printPlant(cmd.OutOrStdout(), p)
			default:
				printCatalog(cmd.OutOrStdout())
			}
			return nil
		},
	}
	plantsCmd.Flags().BoolVar(&compare, "compare", false, "print the MobileNetV2 / EfficientNetV2 comparison instead")

	root.AddCommand(serveCmd, workerCmd, migrateCmd, healthcheckCmd, plantsCmd)
	return root
}

// printCatalog は薬用植物カタログを表形式で出力する。
func printCatalog(w io.Writer) {
	color.New(color.FgGreen, color.Bold).Fprintln(w, "Medicinal plants")

	table := tablewriter.NewWriter(w)
	headers := []string{"Name", "Properties", "Description"}
	table.SetHeader(headers)
	configureTable(table, len(headers))
	for _, p := range plant.Catalog() {
		table.Append([]string{p.Name, strings.Join(p.Properties, ", "), p.Description})
	}
	table.Render()
}

// printPlant は1種の詳細を出力する。
func printPlant(w io.Writer, p model.PlantInfo) {
	color.New(color.FgGreen, color.Bold).Fprintln(w, p.Name)

	table := tablewriter.NewWriter(w)
	headers := []string{"Property", "Value"}
	table.SetHeader(headers)
	configureTable(table, len(headers))
	table.Append([]string{"Properties", strings.Join(p.Properties, ", ")})
	table.Append([]string{"Description", p.Description})
	table.Render()
}

// printModelComparison はモデル比較結果を表形式で出力する。
func printModelComparison(w io.Writer) {
	color.New(color.FgGreen, color.Bold).Fprintln(w, "Model comparison")

	table := tablewriter.NewWriter(w)
	headers := []string{"Model", "Class", "Confidence", "Inference"}
	table.SetHeader(headers)
	configureTable(table, len(headers))
	for _, m := range plant.CompareModels() {
		for _, p := range m.Predictions {
			table.Append([]string{
				m.Model,
				p.Class,
				fmt.Sprintf("%.1f%%", p.Confidence),
				fmt.Sprintf("%dms", m.InferenceTimeMs),
			})
		}
	}
	table.Render()
}

func configureTable(table *tablewriter.Table, columns int) {
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	if !color.NoColor {
		// ヘッダー色の数はカラム数と一致している必要がある
		colors := make([]tablewriter.Colors, columns)
		for i := range colors {
			colors[i] = tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiGreenColor}
		}
		table.SetHeaderColor(colors...)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	config "product-insight-api/configs"
	"product-insight-api/pkg/logger"
	"product-insight-api/pkg/models"
	"product-insight-api/pkg/services"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:           "insightctl",
	Short:         "Query the product insight analysis backend from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// envErr は init 時の .env 読み込み結果。ロガー初期化後に出力する
var envErr error

var args struct {
	baseURL  string
	timeout  time.Duration
	logLevel string
	product  string
	asJSON   bool
	output   string
}

func init() {
	// .env と環境変数の値をフラグのデフォルトにする
	envErr = godotenv.Load()
	cfg := config.LoadConfig()

	Cmd.PersistentFlags().StringVar(&args.baseURL, "base-url", cfg.AnalysisAPIBaseURL, "analysis backend base URL")
	Cmd.PersistentFlags().DurationVar(&args.timeout, "timeout", cfg.AnalysisAPITimeout(), "request timeout")
	Cmd.PersistentFlags().StringVar(&args.logLevel, "log-level", "warn", "log level")
	Cmd.PersistentPreRunE = func(cmd *cobra.Command, argv []string) error {
		if err := logger.InitLogger(args.logLevel, ""); err != nil {
			return err
		}
		if envErr != nil {
			logger.Log.Debugf(".env file not loaded: %v", envErr)
		}
		return nil
	}

	categoriesCmd := &cobra.Command{
		Use:   "categories",
		Short: "List the categories the backend can analyze",
		Args:  cobra.NoArgs,
		RunE:  runCategories,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze <category>",
		Short: "Run a category analysis, optionally followed by a product analysis",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	analyzeCmd.Flags().StringVar(&args.product, "product", "", "product name to analyze within the category")
	analyzeCmd.Flags().BoolVar(&args.asJSON, "json", false, "print the presented sections as JSON")

	exportCmd := &cobra.Command{
		Use:   "export <category>",
		Short: "Write the analysis of a category to an Excel workbook",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	exportCmd.Flags().StringVar(&args.product, "product", "", "product name to analyze within the category")
	exportCmd.Flags().StringVarP(&args.output, "output", "o", "analysis.xlsx", "output file")

	Cmd.AddCommand(categoriesCmd, analyzeCmd, exportCmd)
}

func main() {
	if err := Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient() *services.AnalysisClient {
	// CLI は単発実行なのでレート制限はかけない
	return services.NewAnalysisClient(args.baseURL, args.timeout, 0, 1)
}

func runCategories(cmd *cobra.Command, argv []string) error {
	list, err := newClient().GetCategories(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, c := range list.Categories {
		if ds, ok := list.Datasets[c]; ok {
			fmt.Fprintf(out, "%s\t%s\n", c, ds)
			continue
		}
		fmt.Fprintln(out, c)
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, argv []string) error {
	view, err := analyze(cmd.Context(), argv[0], args.product)
	if err != nil {
		return err
	}
	if args.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	printSections(cmd.OutOrStdout(), view.Sections)
	return nil
}

func runExport(cmd *cobra.Command, argv []string) error {
	view, err := analyze(cmd.Context(), argv[0], args.product)
	if err != nil {
		return err
	}
	f, err := services.ExportView(view)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(args.output); err != nil {
		return fmt.Errorf("failed to save %s: %w", args.output, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args.output)
	return nil
}

// analyze はダッシュボードと同じコントローラーで分析を実行し、表示状態を返します。
func analyze(ctx context.Context, category, product string) (models.SessionView, error) {
	client := newClient()
	list, err := client.GetCategories(ctx)
	if err != nil {
		return models.SessionView{}, err
	}
	resolver := services.NewCategoryResolver()
	resolver.Refresh(list.Categories, list.Datasets)

	controller := services.NewRequestController(client, resolver, nil)
	defer controller.Close()

	if _, err := controller.LoadCategoryAnalysis(ctx, category); err != nil {
		return models.SessionView{}, err
	}
	if product != "" {
		// 製品分析の失敗は表示状態に含まれるので、ここではエラーとして扱わない
		if _, err := controller.LoadProductAnalysis(ctx, category, product); err != nil {
			logger.Log.Warnf("product analysis failed: %v", err)
		}
	}
	return services.BuildView("cli", controller.Snapshot(), product), nil
}

func printSections(w io.Writer, sections []models.Section) {
	for _, s := range sections {
		fmt.Fprintf(w, "== %s ==\n", s.Title)
		switch {
		case s.Loading:
			fmt.Fprintln(w, "  (loading)")
		case s.Error != "":
			fmt.Fprintf(w, "  error: %s\n", s.Error)
		}
		if s.Message != "" {
			fmt.Fprintf(w, "  %s\n", s.Message)
		}
		if s.Image != "" {
			fmt.Fprintf(w, "  [image, %d bytes encoded]\n", len(s.Image)-len(services.ImageDataPrefix))
		}
		for _, e := range s.Entries {
			fmt.Fprintf(w, "  %s: %s\n", e.Label, e.Value)
		}
	}
}

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"invoicing-engine/internal/core"
	"invoicing-engine/internal/db"
	"invoicing-engine/internal/render"
)

var (
	renderCompanyID int
	renderOutput    string
)

var renderPDFCmd = &cobra.Command{
	Use:   "render-pdf [document-id]",
	Short: "Render a document as PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		documentID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}

		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		doc, err := core.NewDocumentService(pool).GetDocument(ctx, renderCompanyID, documentID)
		if err != nil {
			return err
		}

		out := os.Stdout
		if renderOutput != "" {
			out, err = os.Create(renderOutput)
			if err != nil {
				return fmt.Errorf("create output file %s: %w", renderOutput, err)
			}
			defer out.Close()
		}
		return render.PDF(doc, out)
	},
}

func init() {
	rootCmd.AddCommand(renderPDFCmd)
	renderPDFCmd.Flags().IntVar(&renderCompanyID, "company", 0, "Company id owning the document")
	renderPDFCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "Output file path (default: stdout)")
	renderPDFCmd.MarkFlagRequired("company")
}

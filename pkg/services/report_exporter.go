package services

import (
	"encoding/base64"
	"fmt"
	_ "image/png" // 可視化画像のサイズ取得に必要
	"strings"

	"product-insight-api/pkg/logger"
	"product-insight-api/pkg/models"

	"github.com/xuri/excelize/v2"
)

const (
	analysisSheet      = "Analysis"
	visualizationSheet = "Visualization"
)

// ExportView は表示中のセクションを Excel ブックに書き出します。
// 1シート目にセクションごとのラベルと値、可視化画像があれば2シート目に画像を配置します。
func ExportView(view models.SessionView) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), analysisSheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	header := []interface{}{"Section", "Label", "Value"}
	if err := f.SetSheetRow(analysisSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}
	if err := f.SetCellStyle(analysisSheet, "A1", "C1", bold); err != nil {
		return nil, fmt.Errorf("failed to apply style: %w", err)
	}

	row := 2
	writeRow := func(values ...interface{}) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(analysisSheet, cell, &values); err != nil {
			return err
		}
		row++
		return nil
	}

	var image string
	for _, section := range view.Sections {
		var err error
		switch {
		case section.Loading:
			err = writeRow(section.Title, "status", "loading")
		case section.Error != "":
			err = writeRow(section.Title, "error", section.Error)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write status row: %w", err)
		}

		switch section.Kind {
		case models.SectionProductSearch:
			if section.Query != "" {
				err = writeRow(section.Title, "query", section.Query)
			}
		case models.SectionVisualization:
			image = section.Image
			err = writeRow(section.Title, "image", fmt.Sprintf("see %s sheet", visualizationSheet))
		default:
			for _, e := range section.Entries {
				if err = writeRow(section.Title, e.Label, e.Value); err != nil {
					break
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write section %s: %w", section.Kind, err)
		}
	}

	if err := f.SetColWidth(analysisSheet, "A", "C", 28); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	if image != "" {
		addVisualization(f, image)
	}

	return f, nil
}

// addVisualization は画像を別シートに貼り付けます。画像として読めない場合は省略します。
func addVisualization(f *excelize.File, dataURI string) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURI, ImageDataPrefix))
	if err != nil {
		logger.Log.Warnf("⚠️ [Excel出力] visualization is not valid base64, skipped: %v", err)
		return
	}
	if _, err := f.NewSheet(visualizationSheet); err != nil {
		logger.Log.Warnf("⚠️ [Excel出力] failed to add sheet: %v", err)
		return
	}
	if err := f.AddPictureFromBytes(visualizationSheet, "A1", &excelize.Picture{
		Extension: ".png",
		File:      data,
		Format:    &excelize.GraphicOptions{AltText: "Analysis Visualization"},
	}); err != nil {
		logger.Log.Warnf("⚠️ [Excel出力] failed to embed visualization: %v", err)
		_ = f.DeleteSheet(visualizationSheet)
	}
}

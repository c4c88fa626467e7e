package infra

// pdf.go: shipment reconciliation report using go-pdf/fpdf.
// One A4 page per session with:
//   - Session header (warehouse, distributor, order, status)
//   - Per-variant table: expected vs scanned units and cases
//   - Discrepancy warnings
//   - Scanned code counts
//
// The output file is saved to storagePath/shipment_{session_id}.pdf.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"qrtrace/internal/model"

	"github.com/go-pdf/fpdf"
)

// GenerateReconciliationPDF renders the reconciliation report of a session.
// labels maps variant id → display label; unknown variants print their id.
// Returns the path to the generated file.
func GenerateReconciliationPDF(s *model.ValidationSession, labels map[string]string, storagePath string) (string, error) {
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return "", fmt.Errorf("pdf: create storage dir: %w", err)
	}
	filePath := filepath.Join(storagePath, fmt.Sprintf("shipment_%s.pdf", s.ID))

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(12, 12, 12)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 24

	// ── Header ───────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(contentW, 8, "Shipment reconciliation", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(contentW, 5, "Session: "+s.ID.String(), "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 5, "Warehouse: "+s.WarehouseOrgID.String(), "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 5, "Distributor: "+s.DistributorOrgID.String(), "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 5, "Order: "+s.DestinationOrderID.String(), "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 5, fmt.Sprintf("Status: %s   Created: %s", s.ValidationStatus, s.CreatedAt.Format("2006-01-02 15:04")), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	// ── Quantities ───────────────────────────────────────────────────────────
	expected := s.ExpectedQuantities.Data()
	scanned := s.ScannedQuantities.Data()
	variants := make(map[string]struct{})
	for v := range expected.PerVariant {
		variants[v] = struct{}{}
	}
	for v := range scanned.PerVariant {
		variants[v] = struct{}{}
	}
	ids := make([]string, 0, len(variants))
	for v := range variants {
		ids = append(ids, v)
	}
	sort.Strings(ids)

	col1 := contentW * 0.40
	col := contentW * 0.15

	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(col1, 6, "Variant", "B", 0, "L", false, 0, "")
	pdf.CellFormat(col, 6, "Exp. units", "B", 0, "R", false, 0, "")
	pdf.CellFormat(col, 6, "Scan units", "B", 0, "R", false, 0, "")
	pdf.CellFormat(col, 6, "Exp. cases", "B", 0, "R", false, 0, "")
	pdf.CellFormat(col, 6, "Scan cases", "B", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, v := range ids {
		label := labels[v]
		if label == "" {
			label = v
		}
		if len(label) > 40 {
			label = label[:39] + "~"
		}
		e, sc := expected.PerVariant[v], scanned.PerVariant[v]
		pdf.CellFormat(col1, 5, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(col, 5, fmt.Sprintf("%d", e.Units), "", 0, "R", false, 0, "")
		pdf.CellFormat(col, 5, fmt.Sprintf("%d", sc.Units), "", 0, "R", false, 0, "")
		pdf.CellFormat(col, 5, fmt.Sprintf("%d", e.Cases), "", 0, "R", false, 0, "")
		pdf.CellFormat(col, 5, fmt.Sprintf("%d", sc.Cases), "", 1, "R", false, 0, "")
	}
	pdf.Ln(3)

	// ── Discrepancies ────────────────────────────────────────────────────────
	report := s.DiscrepancyDetails.Data()
	pdf.SetFont("Helvetica", "B", 10)
	if !report.HasDiscrepancy {
		pdf.CellFormat(contentW, 6, "No discrepancies", "", 1, "L", false, 0, "")
	} else {
		pdf.CellFormat(contentW, 6, fmt.Sprintf("%d discrepancy warning(s)", len(report.Warnings)), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, w := range report.Warnings {
			pdf.MultiCell(contentW, 5, "- "+w.Message, "", "L", false)
		}
	}
	pdf.Ln(2)

	// ── Footer ────────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "I", 8)
	pdf.CellFormat(contentW, 5, fmt.Sprintf("Cases scanned: %d   Units scanned individually: %d",
		len(s.MasterCodesScanned), len(s.UniqueCodesScanned)), "", 1, "L", false, 0, "")

	if err := pdf.OutputFileAndClose(filePath); err != nil {
		return "", fmt.Errorf("pdf: write file: %w", err)
	}
	return filePath, nil
}

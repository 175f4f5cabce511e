package document

import "time"

// ExportPayload is the body the export service turns into a printable artifact
type ExportPayload struct {
	DocumentID  string             `json:"documento_id"`
	Diagnosis   string             `json:"diagnostico,omitempty"`
	GeneratedAt time.Time          `json:"gerado_em"`
	Fingerprint string             `json:"hash"`
	Medications []ExportMedication `json:"medicamentos"`
}

// ExportMedication is one line of ExportPayload
type ExportMedication struct {
	Name     string `json:"nome"`
	Dosage   string `json:"dosagem"`
	Quantity string `json:"quantidade"`
	Posology string `json:"uso"`
	Caution  string `json:"alerta,omitempty"`
}

// NewExportPayload serializes a document for the export service
func NewExportPayload(doc *Document) ExportPayload {
	lines := doc.Lines()
	meds := make([]ExportMedication, len(lines))
	for i, l := range lines {
		meds[i] = ExportMedication{
			Name:     l.Name,
			Dosage:   l.DosageLabel,
			Quantity: l.Quantity,
			Posology: l.UsageInstructions,
			Caution:  l.Warning,
		}
	}
	return ExportPayload{
		DocumentID:  doc.ID(),
		Diagnosis:   doc.Diagnosis(),
		GeneratedAt: doc.GeneratedAt().UTC(),
		Fingerprint: doc.Fingerprint(),
		Medications: meds,
	}
}

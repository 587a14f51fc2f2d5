// Package ticketdoc produces ticket codes and the printable ticket sent to
// buyers once their payment settles.
package ticketdoc

import (
	"bytes"
	"encoding/base64"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	startY     = 40.0
	labelX     = 20.0
	valueX     = 110.0
	lineHeight = 35.0
	qrSize     = 50.0
	dateLayout = "2006-01-02 15:04"
)

type TicketInfo struct {
	ID   uuid.UUID
	Code string
}

type EventInfo struct {
	ID        uuid.UUID
	Title     string
	Location  string
	StartDate time.Time
}

type Document struct {
	Filename string
	Content  []byte
}

// Base64 is the encoding used when the document travels inside a JSON message.
func (d Document) Base64() string {
	return base64.StdEncoding.EncodeToString(d.Content)
}

type Renderer struct {
	verifyBaseURL string
}

// NewRenderer builds a renderer whose QR codes point at clientURL.
func NewRenderer(clientURL string) *Renderer {
	return &Renderer{verifyBaseURL: clientURL}
}

// VerificationURL is the string encoded in the ticket's QR code.
func (r *Renderer) VerificationURL(ticketCode string, eventID uuid.UUID) string {
	q := url.Values{}
	q.Set("code", ticketCode)
	q.Set("event", eventID.String())
	return r.verifyBaseURL + "/tickets/verify?" + q.Encode()
}

func (r *Renderer) RenderDocument(ticket TicketInfo, event EventInfo) (Document, error) {
	png, err := qrcode.Encode(r.VerificationURL(ticket.Code, event.ID), qrcode.Medium, 256)
	if err != nil {
		return Document{}, errors.Wrap(err, "encode qr")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(event.Title), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(74, 74, 74)
	pdf.Text(labelX, startY, "EVENT")
	pdf.Text(labelX, startY+lineHeight, "LOCATION")
	pdf.Text(valueX, startY, "TICKET CODE")
	pdf.Text(valueX, startY+lineHeight, "DATE")

	pdf.SetFont("Helvetica", "", 12)
	pdf.SetTextColor(110, 110, 110)
	pdf.Text(labelX, startY+10, tr(event.Title))
	pdf.Text(labelX, startY+lineHeight+10, tr(event.Location))
	pdf.Text(valueX, startY+10, ticket.Code)
	pdf.Text(valueX, startY+lineHeight+10, event.StartDate.Format(dateLayout))

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(png))
	w, h := pdf.GetPageSize()
	pdf.ImageOptions("qr", w-qrSize-20, h-qrSize-20, qrSize, qrSize, false, opts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Document{}, errors.Wrap(err, "render ticket pdf")
	}

	return Document{
		Filename: ticket.Code + ".pdf",
		Content:  buf.Bytes(),
	}, nil
}

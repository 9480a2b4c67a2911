package rag

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxZipEntrySize bounds decompressed DOCX entries.
const maxZipEntrySize = 100 << 20

// extractText parses raw document bytes into plain text. The content
// type wins; when it is absent or generic the filename extension
// decides. Anything unrecognized is treated as plain text.
func extractText(content []byte, contentType, filename string) (string, error) {
	switch {
	case isPDF(contentType, filename):
		return extractPDF(content)
	case isDOCX(contentType, filename):
		return extractDOCX(content)
	default:
		return string(content), nil
	}
}

func isPDF(contentType, filename string) bool {
	return strings.Contains(contentType, "pdf") ||
		strings.EqualFold(filepath.Ext(filename), ".pdf")
}

func isDOCX(contentType, filename string) bool {
	return strings.Contains(contentType, "officedocument.wordprocessingml") ||
		strings.EqualFold(filepath.Ext(filename), ".docx")
}

func extractPDF(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty pdf content")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}
	return strings.TrimSpace(text.String()), nil
}

// extractDOCX streams word/document.xml tokens, collecting text runs
// and inserting newlines at paragraph boundaries.
func extractDOCX(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty docx content")
	}
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var docXML []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("read document.xml: %w", err)
		}
		docXML, err = io.ReadAll(io.LimitReader(rc, maxZipEntrySize))
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read document.xml: %w", err)
		}
		break
	}
	if docXML == nil {
		return "", fmt.Errorf("missing word/document.xml")
	}

	dec := xml.NewDecoder(bytes.NewReader(docXML))
	var text strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				text.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				text.Write(el)
			}
		}
	}
	return strings.TrimSpace(text.String()), nil
}

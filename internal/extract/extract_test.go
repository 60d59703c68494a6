package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rfpdesk/docvault/internal/domain"
)

func TestRegistry_Allowed(t *testing.T) {
	r := NewRegistry(nil)
	for _, m := range []string{"application/pdf", "TEXT/PLAIN; charset=utf-8", MimeDOCX, "image/png"} {
		if !r.Allowed(m) {
			t.Errorf("%s should be allowed", m)
		}
	}
	for _, m := range []string{"application/x-msdownload", "video/mp4", ""} {
		if r.Allowed(m) {
			t.Errorf("%s should not be allowed", m)
		}
	}

	narrow := NewRegistry([]string{"text/plain"})
	if narrow.Allowed("application/pdf") {
		t.Error("configured allow-list must replace defaults")
	}
}

func TestRegistry_Extract(t *testing.T) {
	r := NewRegistry(nil)

	tests := []struct {
		name string
		mime string
		data []byte
		want []string
	}{
		{"plain", "text/plain; charset=utf-8", []byte("Budget: $1,200"), []string{"Budget: $1,200"}},
		{
			"markdown",
			MimeMarkdown,
			[]byte("# Pricing\n\nThe **total** budget is [here](http://x).\n\n| item | cost |\n|---|---|\n| cloud | 40 |\n\n```\ncode block\n```\n"),
			[]string{"Pricing", "total", "budget", "here", "cloud", "40", "code block"},
		},
		{"csv", MimeCSV, []byte("item,cost\n\"hosting, yearly\",1200\n"), []string{"item cost", "hosting, yearly 1200"}},
		{"pdf has no extractor", "application/pdf", []byte("%PDF-1.7"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Extract(tt.mime, tt.data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want == nil && got != "" {
				t.Errorf("got %q, want empty", got)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("text %q missing %q", got, w)
				}
			}
			if strings.Contains(got, "**") || strings.Contains(got, "](") {
				t.Errorf("markup leaked: %q", got)
			}
		})
	}
}

func TestRegistry_ExtractRejects(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Extract("application/x-sh", []byte("rm -rf")); !errors.Is(err, domain.ErrUnsupportedContent) {
		t.Errorf("disallowed type err = %v", err)
	}
	if _, err := r.Extract(MimeDOCX, []byte("not a zip")); !errors.Is(err, domain.ErrUnsupportedContent) {
		t.Errorf("corrupt docx err = %v", err)
	}
}

func TestDOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Write([]byte(`<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Annual</w:t></w:r><w:r><w:t xml:space="preserve"> budget</w:t></w:r></w:p>
<w:p><w:r><w:t>Section</w:t><w:tab/><w:t>two</w:t></w:r></w:p>
</w:body></w:document>`))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := NewRegistry(nil).Extract(MimeDOCX, buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if got != "Annual budget\nSection two" {
		t.Errorf("got %q", got)
	}
}

package knowledge

import "testing"

func TestValidateUpload(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		size     int64
		wantType string
		wantErr  bool
	}{
		{"pdf", "handbook.pdf", 1024, "application/pdf", false},
		{"markdown", "notes.MD", 1024, "text/markdown", false},
		{"docx", "brief.docx", 1024, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", false},
		{"html", "page.html", 1024, "text/html", false},
		{"unsupported extension", "malware.exe", 1024, "", true},
		{"no extension", "README", 1024, "", true},
		{"empty filename", "  ", 1024, "", true},
		{"empty file", "notes.md", 0, "", true},
		{"oversized", "big.pdf", MaxUploadSize + 1, "", true},
		{"at the limit", "exact.pdf", MaxUploadSize, "application/pdf", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			contentType, err := ValidateUpload(tc.filename, tc.size)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if contentType != tc.wantType {
				t.Errorf("content type = %q, want %q", contentType, tc.wantType)
			}
		})
	}
}

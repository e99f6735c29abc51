package delimited

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestCanRead(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		header string
		want   bool
	}{
		{"comma csv", "branch01/extract.csv", "Name,Phone,Balance\n", true},
		{"semicolon csv", "extract.csv", "Name;Phone;Balance\n", true},
		{"tab txt", "extract.txt", "Name\tPhone\tBalance\n", true},
		{"pipe tsv", "extract.tsv", "Name|Phone|Balance\n", true},
		{"wrong extension", "extract.xlsx", "Name,Phone\n", false},
		{"no delimiter", "extract.csv", "justoneword\n", false},
		{"empty header", "extract.csv", "", false},
	}

	r := NewReader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.CanRead(tt.path, []byte(tt.header)); got != tt.want {
				t.Errorf("CanRead(%q, %q) = %v, want %v", tt.path, tt.header, got, tt.want)
			}
		})
	}
}

func TestOpen_StreamsRows(t *testing.T) {
	data := "Name,Phone, Loan Status ,Balance\n" +
		"Agnes Mwale,0978559684,Current,\"1,500.00\"\n" +
		"\n" +
		"Brian Zulu,0966123456,Fully Paid,0\n"

	src, err := NewReader().Open(context.Background(), strings.NewReader(data), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()

	first, err := src.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if first["Name"] != "Agnes Mwale" {
		t.Errorf("Name = %q, want Agnes Mwale", first["Name"])
	}
	if first["Balance"] != "1,500.00" {
		t.Errorf("Balance = %q, want quoted 1,500.00", first["Balance"])
	}
	if first["Loan Status"] != "Current" {
		t.Errorf("Loan Status = %q, want Current (header should be trimmed)", first["Loan Status"])
	}

	// Blank line is skipped, second data row comes next
	second, err := src.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if second["Name"] != "Brian Zulu" {
		t.Errorf("Name = %q, want Brian Zulu", second["Name"])
	}

	if _, err := src.Next(); err != io.EOF {
		t.Errorf("Next() after last row = %v, want io.EOF", err)
	}
}

func TestOpen_SemicolonDelimiter(t *testing.T) {
	data := "Name;Phone;Balance\nAgnes;0978559684;250\n"

	src, err := NewReader().Open(context.Background(), strings.NewReader(data), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()

	row, err := src.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if row["Phone"] != "0978559684" {
		t.Errorf("Phone = %q, want 0978559684", row["Phone"])
	}
}

func TestOpen_ShortRowLeavesColumnsAbsent(t *testing.T) {
	data := "Name,Phone,Email\nAgnes,0978559684\n"

	src, err := NewReader().Open(context.Background(), strings.NewReader(data), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()

	row, err := src.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, ok := row["Email"]; ok {
		t.Errorf("short row should leave Email absent, got %q", row["Email"])
	}
}

func TestOpen_EmptyInput(t *testing.T) {
	_, err := NewReader().Open(context.Background(), strings.NewReader(""), nil)
	if err == nil {
		t.Fatal("Open() on empty input expected error")
	}
}

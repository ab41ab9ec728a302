package errors

import (
	"testing"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid nested", "CAMOutputs/GerberFiles/copper_top.gbr", false},
		{"valid single", "drills.xln", false},
		{"valid dots in name", "board..v2.gbr", false},

		{"empty", "", true},
		{"too long", string(make([]byte, 600)), true},
		{"absolute", "/etc/passwd", true},
		{"traversal", "../outside.gbr", true},
		{"nested traversal", "a/../../outside.gbr", true},
		{"backslash", "CAMOutputs\\x.gbr", true},
		{"null byte", "a\x00b", true},
		{"newline", "a\nb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !Is(err, ErrCodeInvalidPath) {
				t.Errorf("ValidatePath(%q) code = %v, want %v", tt.input, GetCode(err), ErrCodeInvalidPath)
			}
		})
	}
}

func TestValidateArchiveName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid zip", "board.zip", false},
		{"valid spaces", "my board v2.zip", false},

		{"empty", "", true},
		{"path", "dir/board.zip", true},
		{"windows path", "dir\\board.zip", true},
		{"hidden", ".board.zip", true},
		{"control", "board\x01.zip", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArchiveName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArchiveName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

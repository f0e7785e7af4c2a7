package diff

import "testing"

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{name: "empty", text: "", wantErr: true},
		{name: "whitespace only", text: "   \n\t  ", wantErr: true},
		{name: "too short", text: "diff --g", wantErr: true},
		{name: "prose of sufficient length", text: "hello this is not a diff at all", wantErr: true},
		{name: "git diff", text: "diff --git a/f b/f\n--- a/f\n+++ b/f\n@@ -1 +1 @@\n-a\n+b\n", wantErr: false},
		{name: "starts with diff keyword only", text: "diff something long enough", wantErr: false},
		{name: "bare diff with both markers", text: "--- a/f\n+++ b/f\n@@ -1 +1 @@\n-a\n+b\n", wantErr: false},
		{name: "only minus marker", text: "--- a/f\nsome other text here\n", wantErr: true},
		{name: "only plus marker", text: "+++ b/f\nsome other text here\n", wantErr: true},
		{name: "leading whitespace before diff keyword", text: "   diff --git a/f b/f rest of it", wantErr: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) = %v, wantErr %v", tt.text, err, tt.wantErr)
			}
		})
	}
}

// Validation order matters: the empty check wins over the length check, and
// the length check wins over the structural check.
func TestValidate_messageOrder(t *testing.T) {
	t.Parallel()
	if err := Validate(""); err == nil || err.Error() != "No diff provided. Paste a unified diff first." {
		t.Errorf("empty: %v", err)
	}
	if err := Validate("short"); err == nil || err.Error() != "Diff is too short to review." {
		t.Errorf("short: %v", err)
	}
	if err := Validate("this is long enough but not a diff"); err == nil || err.Error() != "Text does not look like a unified diff." {
		t.Errorf("structural: %v", err)
	}
}

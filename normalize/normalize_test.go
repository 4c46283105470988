package normalize

import "testing"

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"crlf", "a\r\nb\r\n", "a\nb"},
		{"trim", "  \n\ta\nb \n\n", "a\nb"},
		{"lone cr kept", "a\rb", "a\rb"},
		{"inner blank lines kept", "a\n\n\nb", "a\n\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestText_Idempotent(t *testing.T) {
	// WHAT: Normalising twice equals normalising once.
	// WHY: Stored snapshots are re-normalised before every comparison.
	inputs := []string{
		"",
		"plain",
		"\r\n\r\nx\r\ny\r\n\r\n",
		" \t lead and trail \t ",
		"\r\r\n\n",
		"a\r\r\nb",
	}
	for _, in := range inputs {
		once := Text(in)
		if twice := Text(once); twice != once {
			t.Errorf("not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestText_LineEndingsEquivalent(t *testing.T) {
	// WHAT: Inputs that differ only in line endings normalise identically.
	// WHY: Servers flip between CRLF and LF; that must never read as a change.
	lf := "<html>\n<body>\nhello\n</body>\n</html>\n"
	crlf := "<html>\r\n<body>\r\nhello\r\n</body>\r\n</html>\r\n"
	if Text(lf) != Text(crlf) {
		t.Fatalf("LF and CRLF differ after normalisation")
	}
	if !Equal(lf, crlf) {
		t.Fatal("Equal should report true")
	}
}

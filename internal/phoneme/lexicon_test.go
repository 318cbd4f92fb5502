package phoneme

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const sampleLexicon = `;;; test dictionary
HELLO  HH AH0 L OW1
HELLO(2)  HH EH0 L OW1
WORLD  W ER1 L D
`

func TestReadLexicon(t *testing.T) {
	lex, err := ReadLexicon(strings.NewReader(sampleLexicon))
	if err != nil {
		t.Fatalf("ReadLexicon: %v", err)
	}
	if lex.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", lex.Len())
	}

	got, ok := lex.Lookup("hello")
	if !ok {
		t.Fatal("hello not found")
	}
	want := []string{"HH", "AH0", "L", "OW1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Lookup(hello) = %v, want %v", got, want)
	}
}

func TestReadLexiconErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		isErr error
	}{
		{name: "missing phones", input: "HELLO\n"},
		{name: "unknown phone", input: "HELLO HH XX\n", isErr: ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadLexicon(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.isErr != nil && !errors.Is(err, tt.isErr) {
				t.Fatalf("expected %v, got %v", tt.isErr, err)
			}
		})
	}
}

func TestLoadLexicon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.dict")
	if err := os.WriteFile(path, []byte(sampleLexicon), 0o644); err != nil {
		t.Fatal(err)
	}
	lex, err := LoadLexicon(path)
	if err != nil {
		t.Fatalf("LoadLexicon: %v", err)
	}
	if lex.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", lex.Len())
	}

	if _, err := LoadLexicon(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPhonemize(t *testing.T) {
	lex, err := ReadLexicon(strings.NewReader(sampleLexicon))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "words",
			input: "Hello world",
			want:  []string{"sil", "HH", "AH0", "L", "OW1", "W", "ER1", "L", "D", "sil"},
		},
		{
			name:  "punctuation pause",
			input: "Hello, world.",
			want:  []string{"sil", "HH", "AH0", "L", "OW1", "sil", "W", "ER1", "L", "D", "sil"},
		},
		{
			name:  "out of vocabulary",
			input: "hello zyzzyva",
			want:  []string{"sil", "HH", "AH0", "L", "OW1", "spn", "sil"},
		},
		{
			name:  "phones pass through",
			input: "HH AY1",
			want:  []string{"sil", "HH", "AY1", "sil"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lex.Phonemize(tt.input)
			if err != nil {
				t.Fatalf("Phonemize: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Phonemize(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if _, err := lex.Phonemize("   "); err == nil {
		t.Fatal("expected error for empty text")
	}
}

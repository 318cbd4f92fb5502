package text

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Token
	}{
		{"plain words", "hello world", []Token{{Text: "hello"}, {Text: "world"}}},
		{"comma pause", "hello, world.", []Token{
			{Text: "hello"}, {Text: ",", Pause: true},
			{Text: "world"}, {Text: ".", Pause: true},
		}},
		{"inner apostrophe kept", "don't", []Token{{Text: "don't"}}},
		{"quotes stripped", `"quoted"`, []Token{{Text: "quoted"}}},
		{"lone punctuation", "wait ... go", []Token{
			{Text: "wait"}, {Text: ".", Pause: true}, {Text: "go"},
		}},
		{"arpabet passes", "HH AH0 L OW1", []Token{
			{Text: "HH"}, {Text: "AH0"}, {Text: "L"}, {Text: "OW1"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %+v; want %+v", tt.in, got, tt.want)
			}
		})
	}
}

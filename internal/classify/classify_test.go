package classify

import (
	"reflect"
	"testing"
)

func TestClassifySkipsUnknownAndTargetLanguage(t *testing.T) {
	files := []File{
		{Path: "a.sh", Size: 100},
		{Path: "b.py", Size: 100},
		{Path: "c.md", Size: 100},
	}
	got := Classify(files, []string{"shell"}, "python", Limits{MaxFileSize: 10000, MaxFiles: 50})
	want := []Candidate{{Path: "a.sh", Language: "shell"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	// Unknown extensions and target-language files are skipped with or
	// without a source filter.
	if got := Classify(files, nil, "python", Limits{}); !reflect.DeepEqual(got, want) {
		t.Fatalf("unfiltered: got %+v, want %+v", got, want)
	}
}

func TestClassifyRequestedLanguageFilter(t *testing.T) {
	files := []File{
		{Path: "a.sh", Size: 10},
		{Path: "b.ts", Size: 10},
		{Path: "c.go", Size: 10},
	}
	got := Classify(files, []string{"Go", " typescript "}, "python", Limits{})
	want := []Candidate{
		{Path: "b.ts", Language: "typescript"},
		{Path: "c.go", Language: "go"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestClassifySizeAndCountLimits(t *testing.T) {
	files := []File{
		{Path: "big.sh", Size: 20000},
		{Path: "z.sh", Size: 10},
		{Path: "a.sh", Size: 10},
		{Path: "m.sh", Size: 10},
	}
	got := Classify(files, nil, "python", Limits{MaxFileSize: 10000, MaxFiles: 2})
	want := []Candidate{
		{Path: "a.sh", Language: "shell"},
		{Path: "m.sh", Language: "shell"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("selection should be lexical and capped: got %+v", got)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	files := []File{{Path: "b.sh", Size: 1}, {Path: "a.rb", Size: 1}}
	first := Classify(files, nil, "python", Limits{})
	for i := 0; i < 5; i++ {
		if got := Classify(files, nil, "python", Limits{}); !reflect.DeepEqual(got, first) {
			t.Fatalf("classification not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestConvertedPath(t *testing.T) {
	cases := []struct {
		path, target, want string
	}{
		{"scripts/build.sh", "python", "scripts/build.py"},
		{"src/main.go", "typescript", "src/main.ts"},
		{"Makefile", "python", "Makefile.py"},
		{"tool.pl", "brainfuck", "tool.txt"},
	}
	for _, tc := range cases {
		if got := ConvertedPath(tc.path, tc.target); got != tc.want {
			t.Errorf("ConvertedPath(%q, %q) = %q, want %q", tc.path, tc.target, got, tc.want)
		}
	}
}

func TestSupportedLanguagesSortedAndUnique(t *testing.T) {
	langs := SupportedLanguages()
	seen := map[string]bool{}
	for i, lang := range langs {
		if seen[lang] {
			t.Fatalf("duplicate language %q", lang)
		}
		seen[lang] = true
		if i > 0 && langs[i-1] >= lang {
			t.Fatalf("languages not sorted: %q before %q", langs[i-1], lang)
		}
	}
	for _, want := range []string{"shell", "python", "go", "kotlin"} {
		if !seen[want] {
			t.Fatalf("missing language %q", want)
		}
	}
}

func TestLanguageOfCaseInsensitive(t *testing.T) {
	if got := LanguageOf("Setup.SH"); got != "shell" {
		t.Fatalf("got %q", got)
	}
	if got := LanguageOf("README"); got != "" {
		t.Fatalf("expected empty language for extensionless path, got %q", got)
	}
}

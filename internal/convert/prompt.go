package convert

import (
	"fmt"
	"strings"
)

// instructions holds per-source-language guidance folded into the system
// prompt. Languages without an entry get a generic instruction.
var instructions = map[string]string{
	"shell":      "shell scripts using subprocess, os, and pathlib-style libraries",
	"powershell": "PowerShell scripts, mapping cmdlets to appropriate libraries",
	"typescript": "TypeScript code, maintaining type safety where possible",
	"javascript": "JavaScript code, adapting async patterns appropriately",
	"go":         "Go code, adapting goroutines to the target's concurrency model",
	"rust":       "Rust code, maintaining memory safety concepts where relevant",
	"ruby":       "Ruby code, adapting Ruby idioms to the target's conventions",
	"php":        "PHP code, adapting web-specific patterns appropriately",
	"java":       "Java code, simplifying object-oriented patterns where beneficial",
	"scala":      "Scala code, adapting functional programming concepts",
	"kotlin":     "Kotlin code, maintaining null safety concepts where possible",
	"swift":      "Swift code, adapting platform-specific patterns to portable equivalents",
	"csharp":     "C# code, adapting .NET patterns to target-language equivalents",
	"cpp":        "C++ code, using appropriate libraries for performance-critical sections",
	"c":          "C code, using bindings or libraries for system calls",
	"perl":       "Perl code, adapting regex and text processing patterns",
	"r":          "R code, using the target's data-analysis libraries",
	"lua":        "Lua code, adapting embedded scripting patterns",
	"dart":       "Dart code, adapting UI/web patterns appropriately",
	"groovy":     "Groovy code, adapting build automation and scripting patterns",
	"python":     "Python code, adapting Pythonic idioms to the target's conventions",
}

func systemPrompt(sourceLanguage, targetLanguage string) string {
	instruction, ok := instructions[sourceLanguage]
	if !ok {
		instruction = fmt.Sprintf("%s code", sourceLanguage)
	}
	return fmt.Sprintf(`You are an expert in converting %[1]s code to %[2]s. Your task is to:

1. Analyze the %[1]s code and understand its functionality
2. Convert it to equivalent %[2]s code that maintains the same behavior
3. Use appropriate %[2]s libraries and best practices
4. Add proper error handling and logging
5. Keep the original logic flow and functionality
6. Adapt language-specific patterns to idiomatic %[2]s equivalents

Focus on converting %[3]s.

Respond with exactly one fenced code block containing the complete converted
file and nothing else outside it.`, sourceLanguage, targetLanguage, instruction)
}

func userPrompt(path, sourceLanguage, targetLanguage, content string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Convert the following %s file to %s.\n\n", sourceLanguage, targetLanguage)
	fmt.Fprintf(&sb, "File: %s\n\n", path)
	fmt.Fprintf(&sb, "```%s\n%s\n```\n", sourceLanguage, content)
	return sb.String()
}

package graph

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

type funcInfo struct {
	Name          string
	QualifiedName string
	Line          int
	RawParams     string
	ReturnType    string
	Docstring     string
	IsAsync       bool
	IsStatic      bool
	IsClassMethod bool
}

type classInfo struct {
	Name          string
	QualifiedName string
	Line          int
	Docstring     string
	Methods       []funcInfo
	Attributes    []string
}

type fileInfo struct {
	Path      string
	Classes   []classInfo
	Functions []funcInfo
}

// sourceExtensions lists the file extensions the analyzer walks. The
// analysis itself is a best-effort regex pass, not a full parser, so it
// stays language-agnostic rather than growing one grammar per extension.
var sourceExtensions = map[string]bool{
	".py": true, ".go": true, ".js": true, ".ts": true, ".rb": true, ".java": true,
}

var (
	pyClassRe  = regexp.MustCompile(`^\s*class\s+(\w+)`)
	pyDefRe    = regexp.MustCompile(`^(\s*)(async\s+)?def\s+(\w+)\s*\(([^)]*)\)\s*(->\s*([\w\[\], ]+))?:`)
	pyAttrRe   = regexp.MustCompile(`^\s{4,}self\.(\w+)\s*=`)
	goFuncRe   = regexp.MustCompile(`^func\s+(\([^)]*\)\s*)?(\w+)\s*\(([^)]*)\)\s*([\w\[\]\*\. ]*)\s*\{?`)
	decoratorRe = regexp.MustCompile(`^\s*@(\w+)`)
)

// analyzeTree walks root and statically analyzes every recognized source
// file, returning per-file class/method/function records.
func analyzeTree(root string) ([]fileInfo, error) {
	var files []fileInfo
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(path)] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		fi, err := analyzeFile(path, rel)
		if err != nil {
			return nil // unreadable file is skipped, not fatal
		}
		files = append(files, fi)
		return nil
	})
	return files, err
}

func analyzeFile(path, rel string) (fileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileInfo{}, err
	}
	defer f.Close()

	result := fileInfo{Path: rel}
	if strings.HasSuffix(path, ".go") {
		result.Functions = analyzeGoFuncs(f)
		return result, nil
	}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	pendingDecorators := []string{}
	var currentClass *classInfo

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if m := decoratorRe.FindStringSubmatch(line); m != nil {
			pendingDecorators = append(pendingDecorators, m[1])
			continue
		}

		if m := pyClassRe.FindStringSubmatch(line); m != nil {
			if currentClass != nil {
				result.Classes = append(result.Classes, *currentClass)
			}
			currentClass = &classInfo{Name: m[1], QualifiedName: rel + "." + m[1], Line: lineNo}
			pendingDecorators = nil
			continue
		}

		if m := pyDefRe.FindStringSubmatch(line); m != nil {
			indent := m[1]
			fn := funcInfo{
				Name:          m[3],
				Line:          lineNo,
				RawParams:     m[4],
				ReturnType:    strings.TrimSpace(m[6]),
				IsAsync:       m[2] != "",
				IsStatic:      containsString(pendingDecorators, "staticmethod"),
				IsClassMethod: containsString(pendingDecorators, "classmethod"),
			}
			pendingDecorators = nil
			if currentClass != nil && len(indent) > 0 {
				fn.QualifiedName = currentClass.QualifiedName + "." + fn.Name
				currentClass.Methods = append(currentClass.Methods, fn)
			} else {
				if currentClass != nil {
					result.Classes = append(result.Classes, *currentClass)
					currentClass = nil
				}
				fn.QualifiedName = rel + "." + fn.Name
				result.Functions = append(result.Functions, fn)
			}
			continue
		}

		if currentClass != nil {
			if m := pyAttrRe.FindStringSubmatch(line); m != nil {
				currentClass.Attributes = append(currentClass.Attributes, m[1])
			}
		}
	}
	if currentClass != nil {
		result.Classes = append(result.Classes, *currentClass)
	}
	return result, scanner.Err()
}

func analyzeGoFuncs(f *os.File) []funcInfo {
	var out []funcInfo
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		m := goFuncRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, funcInfo{
			Name:          m[2],
			QualifiedName: m[2],
			Line:          lineNo,
			RawParams:     m[3],
			ReturnType:    strings.TrimSpace(m[4]),
		})
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

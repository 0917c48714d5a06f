package featurestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// ParseRepo decodes one HCL feature repository definition. vars is exposed
// to expressions as the config object, so a file can say
// ttl = config.ttl.
func ParseRepo(src []byte, filename string, vars map[string]any) (Objects, error) {
	objs, err := parseRepo(src, filename, vars)
	if err != nil {
		return Objects{}, err
	}
	if err := objs.Validate(); err != nil {
		return Objects{}, fmt.Errorf("featurestore: %s: %w", filename, err)
	}
	return objs, nil
}

func parseRepo(src []byte, filename string, vars map[string]any) (Objects, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Objects{}, fmt.Errorf("featurestore: parse %s: %w", filename, diags)
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"config": toCty(vars)},
	}
	var objs Objects
	if diags := gohcl.DecodeBody(file.Body, evalCtx, &objs); diags.HasErrors() {
		return Objects{}, fmt.Errorf("featurestore: decode %s: %w", filename, diags)
	}
	return objs, nil
}

// LoadRepo reads path, which is either a single .hcl file or a directory
// whose .hcl files are merged in name order. References may cross files.
func LoadRepo(path string, vars map[string]any) (Objects, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Objects{}, fmt.Errorf("featurestore: repository %s: %w", path, err)
	}
	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.hcl"))
		if err != nil {
			return Objects{}, err
		}
		sort.Strings(files)
	}

	var objs Objects
	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			return Objects{}, fmt.Errorf("featurestore: %w", err)
		}
		parsed, err := parseRepo(src, f, vars)
		if err != nil {
			return Objects{}, err
		}
		objs = objs.Merge(parsed)
	}
	if err := objs.Validate(); err != nil {
		return Objects{}, fmt.Errorf("featurestore: repository %s: %w", path, err)
	}
	return objs, nil
}

// toCty converts decoded JSON or YAML values for use in HCL expressions.
func toCty(v any) cty.Value {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case string:
		return cty.StringVal(t)
	case bool:
		return cty.BoolVal(t)
	case int:
		return cty.NumberIntVal(int64(t))
	case int64:
		return cty.NumberIntVal(t)
	case float64:
		return cty.NumberFloatVal(t)
	case []string:
		vals := make([]cty.Value, len(t))
		for i, s := range t {
			vals[i] = cty.StringVal(s)
		}
		if len(vals) == 0 {
			return cty.EmptyTupleVal
		}
		return cty.TupleVal(vals)
	case []any:
		if len(t) == 0 {
			return cty.EmptyTupleVal
		}
		vals := make([]cty.Value, len(t))
		for i, e := range t {
			vals[i] = toCty(e)
		}
		return cty.TupleVal(vals)
	case map[string]any:
		if len(t) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(t))
		for k, e := range t {
			attrs[k] = toCty(e)
		}
		return cty.ObjectVal(attrs)
	}
	return cty.StringVal(fmt.Sprint(v))
}

package memengine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/san-kum/odectl/internal/native"
)

type exportParam struct {
	ID    string
	Path  string
	Expr  string
	Table []native.TablePoint
}

type exportSpecies struct {
	ID      string
	Path    string
	Index   int
	Initial string
	RHS     string
}

type exportObserver struct {
	ID   string
	Path string
	Expr string
}

type exportData struct {
	Name      string
	Full      bool
	AbsTol    string
	RelTol    string
	Times     []string
	Params    []exportParam
	Constants []exportSpecies
	Species   []exportSpecies
	Observers []exportObserver
}

type dialect struct {
	ext       string
	power     string
	modulo    string
	notEqual  string
	functions map[string]string
	tmpl      *template.Template
}

var callPattern = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

func (d dialect) translate(src string) (string, error) {
	out := callPattern.ReplaceAllStringFunc(src, func(call string) string {
		name := strings.TrimSpace(strings.TrimSuffix(call, "("))
		if repl, ok := d.functions[name]; ok {
			return repl + "("
		}
		return call
	})
	if strings.Contains(out, "**") {
		if d.power == "" {
			return "", fmt.Errorf("operator ** in %q is not supported for %s export, use pow()", src, strings.TrimPrefix(d.ext, "."))
		}
		out = strings.ReplaceAll(out, "**", d.power)
	}
	if strings.Contains(out, "%") {
		if d.modulo == "" {
			return "", fmt.Errorf("operator %% in %q is not supported for %s export", src, strings.TrimPrefix(d.ext, "."))
		}
		out = strings.ReplaceAll(out, "%", d.modulo)
	}
	if d.notEqual != "" {
		out = strings.ReplaceAll(out, "!=", d.notEqual)
	}
	return out, nil
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"xs": func(points []native.TablePoint) string {
		parts := make([]string, len(points))
		for i, p := range points {
			parts[i] = num(p.X)
		}
		return strings.Join(parts, ", ")
	},
	"ys": func(points []native.TablePoint) string {
		parts := make([]string, len(points))
		for i, p := range points {
			parts[i] = num(p.Y)
		}
		return strings.Join(parts, ", ")
	},
	"zero": func(i int) int { return i - 1 },
}

var dialects = map[native.ExportLanguage]dialect{
	native.ExportMatlab: {
		ext:      ".m",
		power:    "^",
		notEqual: "~=",
		functions: map[string]string{
			"ln": "log", "pow": "power", "if": "ifelse",
		},
		tmpl: template.Must(template.New("matlab").Funcs(funcs).Parse(matlabTemplate)),
	},
	native.ExportR: {
		ext:    ".R",
		power:  "^",
		modulo: "%%",
		functions: map[string]string{
			"ln": "log", "if": "ifelse",
		},
		tmpl: template.Must(template.New("r").Funcs(funcs).Parse(rTemplate)),
	},
	native.ExportCpp: {
		ext: ".cpp",
		functions: map[string]string{
			"ln": "std::log", "log10": "std::log10", "exp": "std::exp", "sqrt": "std::sqrt",
			"abs": "std::fabs", "min": "std::fmin", "max": "std::fmax", "pow": "std::pow",
			"sin": "std::sin", "cos": "std::cos", "tan": "std::tan",
			"if": "ifelse",
		},
		tmpl: template.Must(template.New("cpp").Funcs(funcs).Parse(cppTemplate)),
	},
}

func (e *Engine) ExportToCode(h native.SimHandle, lang native.ExportLanguage, outDir, baseName string, fullMode bool) native.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	sim, st := e.finalizedSim(h)
	if !st.OK {
		return st
	}
	d, ok := dialects[lang]
	if !ok {
		return native.Failure("unsupported export language %d", int(lang))
	}
	if !identifier.MatchString(baseName) {
		return native.Failure("export base name %q is not a valid identifier", baseName)
	}
	info, err := os.Stat(outDir)
	if err != nil || !info.IsDir() {
		return native.Failure("export directory %s does not exist", outDir)
	}

	data, err := exportModel(sim.sys, d, baseName, fullMode)
	if err != nil {
		return native.Fail(err.Error())
	}
	var buf bytes.Buffer
	if err := d.tmpl.Execute(&buf, data); err != nil {
		return native.Failure("code generation failed: %v", err)
	}
	file := filepath.Join(outDir, baseName+d.ext)
	if err := os.WriteFile(file, buf.Bytes(), 0o644); err != nil {
		return native.Failure("cannot write %s: %v", file, err)
	}
	return st
}

func exportModel(sys *system, d dialect, name string, full bool) (*exportData, error) {
	m := sys.m
	data := &exportData{
		Name:   name,
		Full:   full,
		AbsTol: num(m.absTol),
		RelTol: num(m.relTol),
	}
	for _, t := range sys.outputTimes {
		data.Times = append(data.Times, num(t))
	}

	env, err := sys.newEnv()
	if err != nil {
		return nil, err
	}
	check := func(id string) error {
		if !identifier.MatchString(id) {
			return fmt.Errorf("entity id %q cannot be used as an identifier in generated code", id)
		}
		return nil
	}

	for _, p := range m.params {
		if err := check(p.entityID); err != nil {
			return nil, err
		}
		ep := exportParam{ID: p.entityID, Path: p.path}
		switch {
		case len(p.table) > 0:
			ep.Table = p.table
		case p.expr != nil && (full || p.dynamic):
			if ep.Expr, err = d.translate(p.expr.String()); err != nil {
				return nil, err
			}
		default:
			ep.Expr = num(env.value(p.entityID))
		}
		data.Params = append(data.Params, ep)
	}

	for i, s := range sys.ode {
		if err := check(s.entityID); err != nil {
			return nil, err
		}
		rhs, err := d.translate(s.rhs.String())
		if err != nil {
			return nil, err
		}
		data.Species = append(data.Species, exportSpecies{
			ID: s.entityID, Path: s.path, Index: i + 1,
			Initial: num(s.initial), RHS: rhs,
		})
	}
	for _, s := range sys.fixed {
		if err := check(s.entityID); err != nil {
			return nil, err
		}
		data.Constants = append(data.Constants, exportSpecies{ID: s.entityID, Path: s.path, Initial: num(s.initial)})
	}
	for _, o := range m.observers {
		if err := check(o.entityID); err != nil {
			return nil, err
		}
		expr, err := d.translate(o.expr.String())
		if err != nil {
			return nil, err
		}
		data.Observers = append(data.Observers, exportObserver{ID: o.entityID, Path: o.path, Expr: expr})
	}
	return data, nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

const matlabTemplate = `function [tout, yout] = {{.Name}}
% Generated ODE system{{if .Full}} (formula mode){{else}} (values mode){{end}}.

    y0 = InitialValues;
    outtimes = [{{join .Times " "}}];
    opt = odeset('AbsTol', {{.AbsTol}}, 'RelTol', {{.RelTol}});
    [tout, yout] = ode45(@RHS, outtimes, y0, opt);
end

function y = InitialValues
    y = zeros({{len .Species}}, 1);
{{- range .Species}}
    y({{.Index}}) = {{.Initial}}; % {{.Path}}
{{- end}}
end

function r = ifelse(c, a, b)
    if c
        r = a;
    else
        r = b;
    end
end

function dy = RHS(Time, y)
{{- range .Constants}}
    {{.ID}} = {{.Initial}}; % {{.Path}}
{{- end}}
{{- range .Species}}
    {{.ID}} = y({{.Index}});
{{- end}}
{{- range .Params}}
{{- if .Table}}
    {{.ID}} = interp1([{{xs .Table}}], [{{ys .Table}}], min(max(Time, {{(index .Table 0).X}}), {{(index .Table (zero (len .Table))).X}}));
{{- else}}
    {{.ID}} = {{.Expr}}; % {{.Path}}
{{- end}}
{{- end}}

    dy = zeros({{len .Species}}, 1);
{{- range .Species}}
    dy({{.Index}}) = {{.RHS}};
{{- end}}
end
{{- if .Observers}}

% Observers:
{{- range .Observers}}
%   {{.ID}} = {{.Expr}}
{{- end}}
{{- end}}
`

const rTemplate = `# Generated ODE system{{if .Full}} (formula mode){{else}} (values mode){{end}}.

{{.Name}}_initial <- c({{range $i, $s := .Species}}{{if $i}}, {{end}}{{$s.ID}} = {{$s.Initial}}{{end}})

{{.Name}}_times <- c({{join .Times ", "}})

{{.Name}}_rhs <- function(Time, y, parms) {
{{- range .Constants}}
  {{.ID}} <- {{.Initial}}  # {{.Path}}
{{- end}}
{{- range .Species}}
  {{.ID}} <- y[{{.Index}}]
{{- end}}
{{- range .Params}}
{{- if .Table}}
  {{.ID}} <- approx(c({{xs .Table}}), c({{ys .Table}}), xout = Time, rule = 2)$y
{{- else}}
  {{.ID}} <- {{.Expr}}  # {{.Path}}
{{- end}}
{{- end}}
  list(c({{range $i, $s := .Species}}{{if $i}}, {{end}}{{$s.RHS}}{{end}}))
}
{{- if .Observers}}

{{.Name}}_observers <- function(Time, y) {
{{- range .Species}}
  {{.ID}} <- y[{{.Index}}]
{{- end}}
  c({{range $i, $o := .Observers}}{{if $i}}, {{end}}{{$o.ID}} = {{$o.Expr}}{{end}})
}
{{- end}}

# deSolve::ode({{.Name}}_initial, {{.Name}}_times, {{.Name}}_rhs, NULL, atol = {{.AbsTol}}, rtol = {{.RelTol}})
`

const cppTemplate = `// Generated ODE system{{if .Full}} (formula mode){{else}} (values mode){{end}}.
#include <algorithm>
#include <cmath>
#include <cstddef>

namespace {{.Name}} {

const std::size_t kNumVariables = {{len .Species}};
const double kAbsTol = {{.AbsTol}};
const double kRelTol = {{.RelTol}};

inline double ifelse(bool c, double a, double b) { return c ? a : b; }

inline double table(const double* x, const double* y, std::size_t n, double t) {
    if (t <= x[0]) return y[0];
    if (t >= x[n - 1]) return y[n - 1];
    std::size_t i = std::upper_bound(x, x + n, t) - x;
    return y[i - 1] + (y[i] - y[i - 1]) * (t - x[i - 1]) / (x[i] - x[i - 1]);
}

void InitialValues(double* y) {
{{- range .Species}}
    y[{{zero .Index}}] = {{.Initial}};  // {{.Path}}
{{- end}}
}

void RHS(double Time, const double* y, double* dy) {
{{- range .Constants}}
    const double {{.ID}} = {{.Initial}};  // {{.Path}}
{{- end}}
{{- range .Species}}
    const double {{.ID}} = y[{{zero .Index}}];
{{- end}}
{{- range .Params}}
{{- if .Table}}
    static const double {{.ID}}_x[] = { {{xs .Table}} };
    static const double {{.ID}}_y[] = { {{ys .Table}} };
    const double {{.ID}} = table({{.ID}}_x, {{.ID}}_y, {{len .Table}}, Time);
{{- else}}
    const double {{.ID}} = {{.Expr}};  // {{.Path}}
{{- end}}
{{- end}}
{{- range .Species}}
    dy[{{zero .Index}}] = {{.RHS}};
{{- end}}
}

}  // namespace {{.Name}}
`

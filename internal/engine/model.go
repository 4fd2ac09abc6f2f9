package engine

import (
	"bytes"
	"fmt"
	"text/template"
)

// ModelSpec is the declarative description of the generative process handed
// to the sampling engine. It is an opaque, versioned artifact: the engine
// parses Text, the orchestrator never does.
type ModelSpec struct {
	Version string `json:"version"`
	Text    string `json:"text"`
}

// PriorSlot selects the prior family for one category's intercept. Family is
// "informative" (normal with the given hyperparameters) or "uniform".
type PriorSlot struct {
	Category string
	Family   string
	Mean     float64
	SD       float64
}

// ModelParams fills the generative-model template. Latent is true for the
// reconstruction stage, where the covariate is a bounded latent parameter and
// the engine evaluates the basis per draw.
type ModelParams struct {
	N      int
	M      int
	H      int
	Begin0 int
	Latent bool
	Priors []PriorSlot
}

const specVersion = "tidemark/1"

// modelTemplate is the versioned generative-model description. Slots are
// explicit template fields; prior family is chosen per category.
const modelTemplate = `model tidemark {
  dims { n = {{.N}}; m = {{.M}}; H = {{.H}}; begin0 = {{.Begin0}}; }
  likelihood {
    for (i in 1:n) { y[i, 1:m] ~ multinomial(p[i, 1:m], N[i]); }
    for (i in 1:n) { for (j in 1:m) { log(q[i, j]) <- alpha[j] + inprod(Z[i, 1:H], delta.hj[1:H, j]); } }
  }
{{- if .Latent}}
  latent { for (i in 1:n) { x[i] ~ uniform(xlower[i], xupper[i]); Z[i, 1:H] <- basis(x[i]); } }
{{- end}}
  priors {
{{- range $j, $p := .Priors}}
{{- if eq $p.Family "informative"}}
    alpha[{{add $j 1}}] ~ normal({{printf "%g" $p.Mean}}, {{printf "%g" $p.SD}});  # {{$p.Category}}
{{- else}}
    alpha[{{add $j 1}}] ~ uniform();  # {{$p.Category}}
{{- end}}
{{- end}}
    for (h in 1:H) { for (j in 1:(begin0)) { delta.hj[h, j] ~ normal(0, tau[j]); } }
  }
}
`

// BuildModelSpec renders the generative-model template with the given
// parameters. Every category needs exactly one prior slot.
func BuildModelSpec(p ModelParams) (ModelSpec, error) {
	if len(p.Priors) != p.M {
		return ModelSpec{}, fmt.Errorf("engine: %d prior slots for %d categories", len(p.Priors), p.M)
	}
	for _, slot := range p.Priors {
		if slot.Family != "informative" && slot.Family != "uniform" {
			return ModelSpec{}, fmt.Errorf("engine: unknown prior family %q for category %q", slot.Family, slot.Category)
		}
	}

	funcMap := template.FuncMap{
		"add": func(a, b int) int { return a + b },
	}
	tmpl, err := template.New("model").Funcs(funcMap).Parse(modelTemplate)
	if err != nil {
		return ModelSpec{}, fmt.Errorf("engine: parse model template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return ModelSpec{}, fmt.Errorf("engine: execute model template: %w", err)
	}
	return ModelSpec{Version: specVersion, Text: buf.String()}, nil
}

package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strconv"
)

//go:embed html/*.html
var htmlFS embed.FS

// definition describes one bundled template. Fields in defaults are
// rendered with the placeholder when absent or null.
type definition struct {
	name     string
	required []string
	defaults map[string]string
}

var definitions = []definition{
	{name: "AdminLogin", required: []string{"Ip"}, defaults: map[string]string{"Ip": "Unknown"}},
	{name: "FailedAdminLogin", required: []string{"Ip", "LoginTime"}, defaults: map[string]string{"Ip": "Unknown", "LoginTime": "Unknown"}},
	{name: "NewEmpresaRegistration", required: []string{"EmpresaName"}, defaults: map[string]string{"EmpresaName": "Your Empresa"}},
	{name: "NewUserRegistration", required: []string{"UserName"}, defaults: map[string]string{"UserName": "User"}},
	{name: "UserLogin", required: []string{"Ip", "LoginTime"}, defaults: map[string]string{"Ip": "Unknown", "LoginTime": "Unknown"}},
	{name: "AdminDeactivatedEmpresa", required: []string{"EmpresaName", "Motive"}, defaults: map[string]string{"EmpresaName": "Your Empresa", "Motive": "Unknown motive"}},
	{name: "UserDeactivatedEmpresa", required: []string{"EmpresaName", "Motive"}, defaults: map[string]string{"EmpresaName": "An Empresa", "Motive": "Unknown motive", "ResponsiblePerson": "Unknown"}},
	{name: "UserReactivatedEmpresa", required: []string{"EmpresaName", "Motive"}, defaults: map[string]string{"EmpresaName": "Unknown Empresa", "Motive": "No motive provided", "ResponsiblePerson": "Unknown"}},
	{name: "AdminReactivatedEmpresa", required: []string{"EmpresaName", "Motive"}, defaults: map[string]string{"EmpresaName": "Unknown Empresa", "Motive": "No motive provided", "ResponsiblePerson": "Unknown"}},
}

// DefaultRegistry holds the bundled notification templates.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range definitions {
		src, err := htmlFS.ReadFile("html/" + def.name + ".html")
		if err != nil {
			panic(fmt.Sprintf("templates: %s: %v", def.name, err))
		}
		t, err := HTML(def.name, string(src), def.required, def.defaults)
		if err != nil {
			panic(fmt.Sprintf("templates: %s: %v", def.name, err))
		}
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// HTML builds a Template from html/template source. Values are escaped for
// their HTML context when rendered.
func HTML(name, src string, required []string, defaults map[string]string) (Template, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return Template{}, err
	}
	return Template{
		Name:     name,
		Required: required,
		Render: func(data Data) (string, error) {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, fields(data, defaults)); err != nil {
				return "", err
			}
			return buf.String(), nil
		},
	}, nil
}

func fields(data Data, defaults map[string]string) map[string]string {
	out := make(map[string]string, len(data)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range data {
		if v == nil {
			continue
		}
		out[k] = stringify(v)
	}
	return out
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

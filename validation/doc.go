// Package validation validates configuration sections and routes.
//
// Struct tags are checked with go-playground/validator; field names in
// messages follow the mapstructure (config file) key:
//
//	type RouteConfig struct {
//	    Name    string `mapstructure:"name" validate:"required"`
//	    Path    string `mapstructure:"path" validate:"required,path_template"`
//	}
//	err := validation.Validate(rc)
//
// Cross-field rules go through the programmatic Validator:
//
//	v := validation.New()
//	v.Custom(!seen[name], "routes.name", "must be unique")
//	err := v.Validate()
package validation

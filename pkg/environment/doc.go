// Package environment names the deployment environment a process runs in.
// The logger uses it to pick output presets.
//
//	env := environment.Parse(os.Getenv("APP_ENV"))
//	if env.IsProduction() {
//		// production-only behaviour
//	}
package environment

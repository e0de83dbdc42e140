package launcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// cacheDirs are build-tool caches purged before every attempt. Stale
// cache state is a known cause of dev servers wedging on startup.
var cacheDirs = []string{
	".next",
	".vite",
	".turbo",
	filepath.Join("node_modules", ".cache"),
}

// prepare brings the project directory to a launchable state. Every step
// is idempotent; the whole sequence is re-run on each retry.
func (l *Launcher) prepare(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	root := req.ProjectPath

	for _, d := range cacheDirs {
		_ = os.RemoveAll(filepath.Join(root, d))
	}

	if err := ensureManifest(root, req.BuildID); err != nil {
		return fmt.Errorf("ensure package.json: %w", err)
	}
	if err := removeStaleDependencies(root); err != nil {
		return fmt.Errorf("dependency staleness check: %w", err)
	}
	if err := l.installDependencies(ctx, root); err != nil {
		return err
	}
	if err := writeEmbedConfig(root); err != nil {
		return fmt.Errorf("write embed config: %w", err)
	}
	if err := ensureScaffold(root); err != nil {
		return fmt.Errorf("ensure scaffold: %w", err)
	}
	return nil
}

const defaultManifest = `{
  "name": "%s",
  "private": true,
  "scripts": {
    "dev": "next dev",
    "build": "next build",
    "start": "next start"
  },
  "dependencies": {
    "next": "latest",
    "react": "latest",
    "react-dom": "latest"
  }
}
`

// ensureManifest writes a minimal package.json when the generator left none.
func ensureManifest(root, buildID string) error {
	path := filepath.Join(root, "package.json")
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf(defaultManifest, manifestName(buildID))), 0o644)
}

func manifestName(buildID string) string {
	if buildID == "" {
		return "preview"
	}
	return "preview-" + buildID
}

// removeStaleDependencies deletes node_modules when it predates the
// manifest: the generator rewrote package.json, so the installed tree
// can no longer be trusted.
func removeStaleDependencies(root string) error {
	manifest, err := os.Stat(filepath.Join(root, "package.json"))
	if err != nil {
		return err
	}
	deps, err := os.Stat(filepath.Join(root, "node_modules"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if deps.ModTime().Before(manifest.ModTime()) {
		return os.RemoveAll(filepath.Join(root, "node_modules"))
	}
	return nil
}

// installDependencies runs npm install when node_modules is missing,
// bounded by the install budget. Stderr is captured for the error path.
func (l *Launcher) installDependencies(ctx context.Context, root string) error {
	if _, err := os.Stat(filepath.Join(root, "node_modules")); err == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, l.cfg.InstallTimeout)
	defer cancel()
	// #nosec G204
	cmd := exec.CommandContext(cctx, "npm", "install", "--no-audit", "--no-fund")
	cmd.Dir = root
	cmd.Env = l.environ.Merge(nil)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &InstallError{Stderr: tail(stderr.String(), 2048), Err: err}
	}
	return nil
}

// productionBuild runs the full, non-incremental build step before the
// server is started in production mode.
func (l *Launcher) productionBuild(ctx context.Context, req Request) error {
	cctx, cancel := context.WithTimeout(ctx, l.cfg.BuildTimeout)
	defer cancel()
	// #nosec G204
	cmd := exec.CommandContext(cctx, "npm", "run", "build")
	cmd.Dir = req.ProjectPath
	cmd.Env = l.environ.Merge(nil)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("production build: %w: %s", err, tail(stderr.String(), 2048))
	}
	return nil
}

const embedConfig = `/** Generated by previewd; overwritten on every launch. */
module.exports = {
  async headers() {
    return [
      {
        source: "/:path*",
        headers: [
          { key: "Access-Control-Allow-Origin", value: "*" },
          { key: "Content-Security-Policy", value: "frame-ancestors *" },
          { key: "X-Frame-Options", value: "ALLOWALL" },
        ],
      },
    ];
  },
};
`

// writeEmbedConfig overwrites the CORS/iframe configuration so the
// preview can be embedded by the product UI. Overwrite is intentional:
// generated projects must not ship their own header policy.
func writeEmbedConfig(root string) error {
	return os.WriteFile(filepath.Join(root, "next.config.js"), []byte(embedConfig), 0o644)
}

const scaffoldPage = `export default function Home() {
  return <main>Preview is starting...</main>;
}
`

// ensureScaffold creates a minimal page when the generator produced no
// routable entry point, so the dev server has something to serve.
func ensureScaffold(root string) error {
	for _, d := range []string{"pages", "app", filepath.Join("src", "pages"), filepath.Join("src", "app")} {
		if fi, err := os.Stat(filepath.Join(root, d)); err == nil && fi.IsDir() {
			return nil
		}
	}
	dir := filepath.Join(root, "pages")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "index.js"), []byte(scaffoldPage), 0o644)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

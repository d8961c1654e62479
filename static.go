package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// attachStatic serves a built frontend from dir when one is configured:
//  1. Intercepts GET/HEAD requests not under /api or /healthz
//  2. If a static file matches, serve it directly and Abort
//  3. If no match and path has no '.' and Accept includes text/html, treat as SPA and serve index.html
//  4. otherwise pass through
func attachStatic(engine *gin.Engine, dir string) {
	distFS := resolveFrontendFS(dir)
	if distFS == nil {
		return
	}

	index, err := loadIndex(distFS)
	if err != nil {
		return
	}
	fileServer := http.FileServer(http.FS(distFS))

	engine.Use(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			return
		}
		p := c.Request.URL.Path
		// Let API + websocket routes fall through.
		if strings.HasPrefix(p, "/api") || p == "/healthz" {
			return
		}
		trimmed := strings.TrimPrefix(p, "/")
		if trimmed == "" {
			index.serve(c)
			return
		}
		if fi, err := fs.Stat(distFS, trimmed); err == nil {
			if fi.IsDir() {
				index.serve(c)
				return
			}
			fileServer.ServeHTTP(c.Writer, c.Request)
			c.Abort()
			return
		}

		// SPA fallback: serve index.html for client-side routes.
		if !strings.Contains(trimmed, ".") && acceptHTML(c.Request.Header.Get("Accept")) {
			index.serve(c)
		}
	})
}

func resolveFrontendFS(dir string) fs.FS {
	if dir == "" {
		return nil
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil
	}
	dfs := os.DirFS(dir)
	if _, err := fs.Stat(dfs, "index.html"); err != nil {
		return nil
	}
	return dfs
}

type indexPage struct {
	data    []byte
	etag    string
	modTime time.Time
}

func loadIndex(fsys fs.FS) (*indexPage, error) {
	b, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		return nil, err
	}
	page := &indexPage{data: b, modTime: time.Now()}
	if fi, err := fs.Stat(fsys, "index.html"); err == nil {
		page.modTime = fi.ModTime()
	}
	h := sha256.Sum256(b)
	page.etag = `W/"` + hex.EncodeToString(h[:8]) + `"`
	return page, nil
}

func (p *indexPage) serve(c *gin.Context) {
	if c.Request.Header.Get("If-None-Match") == p.etag {
		c.Status(http.StatusNotModified)
		c.Abort()
		return
	}
	c.Header("ETag", p.etag)
	c.Header("Cache-Control", "no-cache")
	c.Header("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(c.Writer, c.Request, "index.html", p.modTime, bytes.NewReader(p.data))
	c.Abort()
}

// acceptHTML determines if the given accept header string indicates
// that the client accepts HTML content.
func acceptHTML(accept string) bool {
	// Treat missing Accept as HTML navigation.
	if accept == "" {
		return true
	}
	for _, part := range strings.Split(accept, ",") {
		p := strings.TrimSpace(strings.ToLower(part))
		if strings.HasPrefix(p, "text/html") || strings.HasPrefix(p, "application/xhtml+xml") {
			return true
		}
	}
	return false
}

//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binaryPrefix = "gpx_wasilak_datadog_datasource"

// Build represents build-related tasks
type Build mg.Namespace

type platform struct {
	goos   string
	goarch string
	suffix string
}

var platforms = []platform{
	{"linux", "amd64", "linux_x64"},
	{"linux", "arm64", "linux_arm64"},
	{"darwin", "amd64", "darwin_amd64"},
	{"darwin", "arm64", "darwin_arm64"},
	{"windows", "amd64", "windows_x64.exe"},
}

func buildBackend(p platform) error {
	if err := os.MkdirAll("dist", 0755); err != nil {
		return err
	}
	output := filepath.Join("dist", binaryPrefix+"_"+p.suffix)
	fmt.Printf("Building backend for %s/%s -> %s\n", p.goos, p.goarch, output)

	return sh.RunWith(
		map[string]string{
			"GO111MODULE": "on",
			"GOOS":        p.goos,
			"GOARCH":      p.goarch,
		},
		"go", "build",
		"-o", output,
		"-ldflags", "-s -w",
		"./pkg",
	)
}

// Backend builds the plugin backend for the host platform and creates
// the generic-named executable plugin.json points at.
func (Build) Backend() error {
	for _, p := range platforms {
		if p.goos != runtime.GOOS || p.goarch != runtime.GOARCH {
			continue
		}
		if err := buildBackend(p); err != nil {
			return err
		}
		generic := filepath.Join("dist", binaryPrefix)
		if p.goos == "windows" {
			generic += ".exe"
		}
		fmt.Printf("Creating generic executable: %s\n", generic)
		return sh.Copy(generic, filepath.Join("dist", binaryPrefix+"_"+p.suffix))
	}
	return fmt.Errorf("unsupported platform: %s/%s", runtime.GOOS, runtime.GOARCH)
}

// BackendAll cross-compiles the plugin backend for every supported
// platform.
func (Build) BackendAll() error {
	for _, p := range platforms {
		if err := buildBackend(p); err != nil {
			return fmt.Errorf("failed to build %s/%s backend: %w", p.goos, p.goarch, err)
		}
	}
	fmt.Println("All backend binaries built")
	return nil
}

// Tools builds the ddql console and ddlint linter for the host platform.
func (Build) Tools() error {
	if err := os.MkdirAll("dist", 0755); err != nil {
		return err
	}
	for _, tool := range []string{"ddql", "ddlint"} {
		output := filepath.Join("dist", tool)
		if runtime.GOOS == "windows" {
			output += ".exe"
		}
		fmt.Printf("Building %s -> %s\n", tool, output)
		if err := sh.Run("go", "build", "-o", output, "./cmd/"+tool); err != nil {
			return err
		}
	}
	return nil
}

// Test runs the Go test suite.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Coverage runs the test suite with a coverage profile.
func Coverage() error {
	return sh.RunV("go", "test", "-coverprofile=coverage.out", "./...")
}

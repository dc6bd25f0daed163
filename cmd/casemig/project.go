package main

import (
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/chmdznr/case-attachment-migrator/pkg/models"
)

// loadProjectFile reads a project definition from a YAML file.
func loadProjectFile(path string) (*models.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("reading project file: %w", err)
	}
	var project models.Project
	if err := yaml.Unmarshal(data, &project); err != nil {
		return nil, errors.Errorf("parsing project file %s: %w", path, err)
	}
	return &project, nil
}

func endpointFlags(prefix, label string) []cli.Flag {
	env := "CASEMIG_" + strings.ToUpper(prefix) + "_"
	return []cli.Flag{
		&cli.StringFlag{Name: prefix + "-login-url", Usage: label + " login URL", Value: "https://login.salesforce.com"},
		&cli.StringFlag{Name: prefix + "-api-version", Usage: label + " REST API version", Value: "55.0"},
		&cli.StringFlag{Name: prefix + "-username", Usage: label + " username", EnvVars: []string{env + "USERNAME"}},
		&cli.StringFlag{Name: prefix + "-password", Usage: label + " password", EnvVars: []string{env + "PASSWORD"}},
		&cli.StringFlag{Name: prefix + "-client-id", Usage: label + " OAuth client id", EnvVars: []string{env + "CLIENT_ID"}},
		&cli.StringFlag{Name: prefix + "-client-secret", Usage: label + " OAuth client secret", EnvVars: []string{env + "CLIENT_SECRET"}},
	}
}

// applyEndpointFlags overlays explicitly set flags, and defaults for empty
// fields, onto e.
func applyEndpointFlags(c *cli.Context, prefix string, e *models.Endpoint) {
	set := func(name string, dst *string) {
		if c.IsSet(prefix+"-"+name) || *dst == "" {
			*dst = c.String(prefix + "-" + name)
		}
	}
	set("login-url", &e.LoginURL)
	set("api-version", &e.APIVersion)
	set("username", &e.Username)
	set("password", &e.Password)
	set("client-id", &e.ClientID)
	set("client-secret", &e.ClientSecret)
}

// projectFromContext builds the project from an optional --file and flags.
// Flags take precedence over the file.
func projectFromContext(c *cli.Context) (*models.Project, error) {
	project := &models.Project{}
	if path := c.String("file"); path != "" {
		loaded, err := loadProjectFile(path)
		if err != nil {
			return nil, err
		}
		project = loaded
	}

	project.Name = c.String("name")
	applyEndpointFlags(c, "source", &project.Source)
	applyEndpointFlags(c, "destination", &project.Destination)

	if c.IsSet("cross-reference-field") || project.Filter.CrossReferenceField == "" {
		project.Filter.CrossReferenceField = c.String("cross-reference-field")
	}
	if c.IsSet("case-id") {
		project.Filter.CaseIDs = c.StringSlice("case-id")
	}
	if c.IsSet("min-content-size") || project.Filter.MinContentSize == 0 {
		project.Filter.MinContentSize = c.Int64("min-content-size")
	}
	if c.IsSet("staging-dir") || project.StagingDir == "" {
		project.StagingDir = c.String("staging-dir")
	}

	archive := &project.Archive
	if c.IsSet("archive-endpoint") {
		archive.Endpoint = c.String("archive-endpoint")
	}
	if c.IsSet("archive-bucket") {
		archive.Bucket = c.String("archive-bucket")
	}
	if c.IsSet("archive-folder") {
		archive.Folder = strings.Trim(c.String("archive-folder"), "/")
	}
	if c.IsSet("archive-access-key") {
		archive.AccessKey = c.String("archive-access-key")
	}
	if c.IsSet("archive-secret-key") {
		archive.SecretKey = c.String("archive-secret-key")
	}
	if c.IsSet("archive-insecure") {
		archive.Insecure = c.Bool("archive-insecure")
	}

	if project.Source.Username == "" || project.Destination.Username == "" {
		return nil, errors.New("source and destination usernames are required")
	}
	return project, nil
}

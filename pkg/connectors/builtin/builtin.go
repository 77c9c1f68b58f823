// Package builtin wires every shipped adapter into a registry. Importing it
// is the only coupling point between the engine and the concrete connector
// implementations.
package builtin

import (
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/elasticsearch"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/files"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/github"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/gmail"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/googlecalendar"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/googledrive"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/notion"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/obsidian"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/rss"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/slack"
	"github.com/MODSetter/SurfSense-sub000/pkg/connectors/webcrawler"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// Registry returns a registry with all built-in adapters installed.
// Connector types without an adapter here can still be stored; the
// scheduler just refuses to run them.
func Registry() (*connectors.Registry, error) {
	reg := connectors.NewRegistry()

	bindings := []struct {
		connectorType models.ConnectorType
		factory       connectors.Factory
	}{
		{models.ConnectorTypeSlack, slack.New},
		{models.ConnectorTypeNotion, notion.New},
		{models.ConnectorTypeGitHub, github.New},
		{models.ConnectorTypeRSS, rss.New},
		{models.ConnectorTypeWebcrawler, webcrawler.New},
		{models.ConnectorTypeObsidian, obsidian.New},
		{models.ConnectorTypeElasticsearch, elasticsearch.New},
		{models.ConnectorTypeFiles, files.New},
		{models.ConnectorTypeGoogleDrive, googledrive.New},
		{models.ConnectorTypeGoogleCalendar, googlecalendar.New},
		{models.ConnectorTypeGoogleGmail, gmail.New},
	}
	for _, b := range bindings {
		if err := reg.Register(b.connectorType, b.factory); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

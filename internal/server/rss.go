package server

import (
	"encoding/xml"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Valleeh/podcleaner/internal/models"
)

type rssEnclosure struct {
	URL  string `xml:"url,attr"`
	Type string `xml:"type,attr"`
}

type rssItem struct {
	Title       string        `xml:"title"`
	Description string        `xml:"description"`
	PubDate     string        `xml:"pubDate,omitempty"`
	Enclosure   *rssEnclosure `xml:"enclosure,omitempty"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

// generateRSSXML renders the podcast info as an RSS 2.0 document.
func generateRSSXML(info *models.PodcastInfo) ([]byte, error) {
	doc := rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:       info.Title,
			Link:        info.Link,
			Description: info.Description,
		},
	}
	if doc.Channel.Title == "" {
		doc.Channel.Title = "PodCleaner Feed"
	}
	if doc.Channel.Description == "" {
		doc.Channel.Description = "Cleaned podcast feed"
	}

	for _, ep := range info.Episodes {
		item := rssItem{
			Title:       ep.Title,
			Description: ep.Description,
			PubDate:     ep.Published,
		}
		if ep.AudioURL != "" {
			item.Enclosure = &rssEnclosure{URL: ep.AudioURL, Type: "audio/mpeg"}
		}
		doc.Channel.Items = append(doc.Channel.Items, item)
	}

	return xml.Marshal(doc)
}

func (s *Server) writeRSS(c *gin.Context, info *models.PodcastInfo) {
	content, err := generateRSSXML(info)
	if err != nil {
		slog.Error("rss generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate rss feed"})
		return
	}
	c.Data(http.StatusOK, "application/rss+xml", content)
}

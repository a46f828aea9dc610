package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/listing-comb/app/catalog"
	"github.com/lysyi3m/listing-comb/app/database"
	"github.com/lysyi3m/listing-comb/app/feed"
	"github.com/lysyi3m/listing-comb/app/publish"
	"github.com/lysyi3m/listing-comb/app/store"
	"github.com/lysyi3m/listing-comb/app/tasks"
)

// NewHandler wires the HTTP handlers. content may be nil when assets are
// served by the remote store itself.
func NewHandler(configCache *feed.ConfigCache, runRepo database.RunRepository,
	assetRepo database.AssetRepository, generator GeneratorInterface,
	scheduler tasks.TaskSchedulerInterface, content ContentSource) *Handler {
	return &Handler{
		configCache: configCache,
		runRepo:     runRepo,
		assetRepo:   assetRepo,
		generator:   generator,
		scheduler:   scheduler,
		content:     content,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if runCount, err := h.runRepo.GetRunCount(c.Request.Context()); err == nil {
		health["runs"] = runCount
	}

	health["loaded_configurations"] = h.configCache.GetConfigCount()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats := map[string]interface{}{
		"profiles":         h.configCache.GetConfigCount(),
		"enabled_profiles": len(h.configCache.GetEnabledConfigs()),
	}

	if runCount, err := h.runRepo.GetRunCount(ctx); err == nil {
		stats["runs"] = runCount
	}
	if images, err := h.assetRepo.GetAssetCount(ctx, publish.KindImage); err == nil {
		stats["published_images"] = images
	}
	if catalogs, err := h.assetRepo.GetAssetCount(ctx, publish.KindCatalog); err == nil {
		stats["published_catalogs"] = catalogs
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetProfile(c *gin.Context) {
	name := c.Param("name")

	feedConfig, err := h.configCache.GetConfig(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}

	details := map[string]interface{}{
		"name":             name,
		"url":              feedConfig.URL,
		"format":           feedConfig.Format,
		"enabled":          feedConfig.Settings.Enabled,
		"max_items":        feedConfig.Settings.MaxItems,
		"refresh_interval": (time.Duration(feedConfig.Settings.RefreshInterval) * time.Second).String(),
		"filters":          feedConfig.Filters,
		"table":            feedConfig.Table.Path,
		"publish":          feedConfig.Publish.Enabled,
		"syncing":          h.scheduler.IsRunning(name),
	}

	latest, err := h.runRepo.GetLatestRun(c.Request.Context(), name)
	if err != nil {
		slog.Error("Database error", "operation", "get_latest_run", "profile", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if latest != nil {
		details["latest_run"] = runJSON(*latest)
	}

	if asset, err := h.assetRepo.GetAsset(c.Request.Context(), publish.KindCatalog, feedConfig.Publish.RemoteName); err == nil && asset != nil {
		details["catalog_url"] = asset.URL
	}

	c.JSON(http.StatusOK, details)
}

// GetProfileFeed renders the processed catalog as an ads document.
func (h *Handler) GetProfileFeed(c *gin.Context) {
	name := c.Param("name")

	feedConfig, err := h.configCache.GetConfig(name)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	table, err := catalog.LoadTable(feedConfig.Table.Path)
	if err != nil {
		slog.Error("Catalog load error", "profile", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	data, err := h.generator.Run(table.Listings())
	if err != nil {
		slog.Error("Feed generation error", "profile", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("X-Feed-Items", strconv.Itoa(table.Len()))
	c.Header("X-Profile-Name", name)
	c.Data(http.StatusOK, "application/xml; charset=utf-8", data)
}

// GetContent serves a published asset by id, in the shape of the public
// image and catalog links. Assets never shared publicly answer 404.
func (h *Handler) GetContent(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		id = c.Param("id")
	}
	if id == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	role, err := h.content.GetPublicRole(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && role == "") {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Asset role lookup error", "id", id, "error", err)
		c.Status(http.StatusBadGateway)
		return
	}

	data, err := h.content.GetFileContent(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Asset download error", "id", id, "error", err)
		c.Status(http.StatusBadGateway)
		return
	}

	c.Data(http.StatusOK, store.MimeType(id), data)
}

func (h *Handler) APIListProfiles(c *gin.Context) {
	configs := h.configCache.GetConfigs()

	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]map[string]interface{}, 0, len(configs))
	for _, name := range names {
		feedConfig := configs[name]
		info := map[string]interface{}{
			"name":             name,
			"url":              feedConfig.URL,
			"enabled":          feedConfig.Settings.Enabled,
			"refresh_interval": (time.Duration(feedConfig.Settings.RefreshInterval) * time.Second).String(),
			"syncing":          h.scheduler.IsRunning(name),
		}

		if latest, err := h.runRepo.GetLatestRun(c.Request.Context(), name); err == nil && latest != nil {
			info["last_run_at"] = latest.FinishedAt
			info["records"] = latest.Records
		}

		profiles = append(profiles, info)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"profiles": profiles,
		"total":    len(profiles),
	})
}

func (h *Handler) APIListRuns(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.configCache.GetConfig(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	runs, err := h.runRepo.ListRuns(c.Request.Context(), name, limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_runs", "profile", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	items := make([]map[string]interface{}, 0, len(runs))
	for _, run := range runs {
		items = append(items, runJSON(run))
	}

	c.JSON(http.StatusOK, gin.H{"runs": items, "total": len(items)})
}

func (h *Handler) APISyncProfile(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.configCache.GetConfig(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}

	if err := h.scheduler.EnqueueProfile(name); err != nil {
		slog.Warn("Sync request rejected", "profile", name, "error", err)
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Failed to enqueue sync",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Sync cycle enqueued",
		"profile": name,
	})
}

// APIReloadProfile rereads the profile file and starts a cycle with it.
func (h *Handler) APIReloadProfile(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.configCache.GetConfig(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}

	feedConfig, err := h.configCache.LoadConfig(name)
	if err != nil {
		slog.Error("Error reloading configuration", "profile", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to reload configuration",
			"details": err.Error(),
		})
		return
	}

	response := gin.H{
		"success": true,
		"message": "Configuration reloaded",
		"profile": gin.H{
			"name":    name,
			"url":     feedConfig.URL,
			"enabled": feedConfig.Settings.Enabled,
		},
	}

	if feedConfig.Settings.Enabled {
		if err := h.scheduler.EnqueueProfile(name); err != nil {
			response["sync"] = err.Error()
		} else {
			response["sync"] = "enqueued"
		}
	}

	c.JSON(http.StatusOK, response)
}

func runJSON(run database.Run) map[string]interface{} {
	return map[string]interface{}{
		"id":          run.ID,
		"started_at":  run.StartedAt,
		"finished_at": run.FinishedAt,
		"added":       run.Added,
		"patched":     run.Patched,
		"removed":     run.Removed,
		"resynced":    run.Resynced,
		"skipped":     run.Skipped,
		"failed":      run.Failed,
		"issues":      run.Issues,
		"records":     run.Records,
		"changed":     run.Changed,
		"catalog_url": run.CatalogURL,
		"error":       run.Error,
	}
}

package pagepress

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/eringen/pagepress/blob"
	"github.com/eringen/pagepress/content"
	"github.com/eringen/pagepress/errs"
	"github.com/eringen/pagepress/markdown"
	"github.com/eringen/pagepress/metrics"
	"github.com/eringen/pagepress/render"
	"github.com/eringen/pagepress/repository"
)

func (a *App) setupRoutes() {
	e := a.Echo
	e.GET("/healthz", handleHealth)
	e.GET("/metrics", echo.WrapHandler(metrics.HTTPHandler(a.Registry)))
	e.PUT("/uploads/*", a.handleSignedUpload)

	e.GET("/api/session", handleSession)
	e.POST("/api/login", a.handleLogin)
	e.POST("/api/logout", handleLogout)

	api := e.Group("/api", requireAdmin)

	api.GET("/pages", a.handleListPages)
	api.POST("/pages", a.handleCreatePage)
	api.GET("/pages/:id", a.handleGetPage)
	api.PUT("/pages/:id/meta", a.handleUpdatePageMeta)
	api.PUT("/pages/:id/content", a.handleUpdatePageContent)
	api.PUT("/pages/:id/article", a.handleUpdatePageArticle)
	api.PUT("/pages/:id/tags", a.handleSetPageTags)
	api.POST("/pages/:id/copy", a.handleCopyPage)
	api.DELETE("/pages/:id", a.handleDeletePage)
	api.GET("/pages/:id/preview", a.handlePreviewPage)

	api.GET("/templates", a.handleListTemplates)
	api.POST("/templates", a.handleCreateTemplate)
	api.GET("/templates/:id", a.handleGetTemplate)
	api.PUT("/templates/:id/meta", a.handleUpdateTemplateMeta)
	api.PUT("/templates/:id/content", a.handleUpdateTemplateContent)
	api.PUT("/templates/:id/markup", a.handlePutTemplateMarkup)
	api.POST("/templates/:id/copy", a.handleCopyTemplate)
	api.DELETE("/templates/:id", a.handleDeleteTemplate)

	api.GET("/site", a.handleGetSite)
	api.PUT("/site/map", a.handleUpdateSiteMap)
	api.PUT("/site/content", a.handleUpdateSiteContent)
	api.PUT("/site/partials/:key", a.handlePutPartial)
	api.DELETE("/site/partials/:key", a.handleDeletePartial)
	api.GET("/site/assets", a.handleGetSiteAssets)
	api.PUT("/site/assets", a.handlePutSiteAssets)

	api.GET("/tags", a.handleListTags)
	api.POST("/tags", a.handleCreateTag)

	api.GET("/generator", a.handleGeneratorStatus)
	api.POST("/publish", a.handlePublish)

	api.GET("/assets", a.handleListAssets)
	api.POST("/assets/images", a.handleUploadImage)
	api.POST("/assets/upload-url", a.handleUploadURL)
	api.DELETE("/assets/*", a.handleDeleteAsset)
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// pages

func (a *App) handleListPages(c echo.Context) error {
	ctx := c.Request().Context()
	pages, err := a.Sites.Pages(ctx)
	if err != nil {
		return err
	}
	status, err := a.Generator.Status(ctx)
	if err != nil {
		return err
	}
	out := make([]PageView, 0, len(pages))
	for _, p := range pages {
		out = append(out, pageView(p, status))
	}
	return c.JSON(http.StatusOK, out)
}

func pageView(p *content.Page, status content.Status) PageView {
	v := PageView{Page: p}
	if p.Entry != nil {
		v.State = content.PublishState(p.Entry.CreatedAt, p.Entry.UpdatedAt, status)
	}
	return v
}

// livePage loads a page and hides soft-deleted ones.
func (a *App) livePage(c echo.Context, want content.SliceSet) (*content.Page, error) {
	id := c.Param("id")
	page, err := a.Repo.GetPage(c.Request().Context(), id, want|content.WithEntry)
	if err != nil {
		return nil, err
	}
	if !page.Live() {
		return nil, errs.NotFound("api.page", "page %s not found", id)
	}
	return page, nil
}

// respondPage writes the page's current state, re-read after a mutation.
func (a *App) respondPage(c echo.Context, code int) error {
	page, err := a.livePage(c, content.PageFull)
	if err != nil {
		return err
	}
	status, err := a.Generator.Status(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(code, pageView(page, status))
}

func (a *App) handleGetPage(c echo.Context) error {
	return a.respondPage(c, http.StatusOK)
}

func (a *App) handleCreatePage(c echo.Context) error {
	var req repository.NewPage
	if err := bindJSON(c, "api.create_page", &req); err != nil {
		return err
	}
	page, err := a.Repo.CreatePage(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, PageView{Page: page, State: content.DisplayNew})
}

func (a *App) handleUpdatePageMeta(c echo.Context) error {
	var meta content.PageMeta
	if err := bindJSON(c, "api.update_page_meta", &meta); err != nil {
		return err
	}
	if _, err := a.Repo.UpdatePageMeta(c.Request().Context(), c.Param("id"), meta); err != nil {
		return err
	}
	return a.respondPage(c, http.StatusOK)
}

func (a *App) handleUpdatePageContent(c echo.Context) error {
	var req blocksRequest
	if err := bindJSON(c, "api.update_page_content", &req); err != nil {
		return err
	}
	if err := a.Repo.UpdatePageContent(c.Request().Context(), c.Param("id"), req.Blocks); err != nil {
		return err
	}
	return a.respondPage(c, http.StatusOK)
}

// handleUpdatePageArticle accepts markdown as JSON, or an HTML document
// (text/html body or the "html" field) that is converted to markdown.
func (a *App) handleUpdatePageArticle(c echo.Context) error {
	const op = "api.update_page_article"
	var req articleRequest
	if mediaType(c) == echo.MIMETextHTML {
		body, err := readBody(c, maxUploadSize)
		if err != nil {
			return err
		}
		req.HTML = string(body)
	} else if err := bindJSON(c, op, &req); err != nil {
		return err
	}
	md := req.Markdown
	if md == "" && strings.TrimSpace(req.HTML) != "" {
		var err error
		if md, err = markdown.FromHTML(req.HTML); err != nil {
			return errs.Validation(op, "convert html: %v", err)
		}
	}
	if err := a.Repo.UpdatePageArticle(c.Request().Context(), c.Param("id"), md); err != nil {
		return err
	}
	return a.respondPage(c, http.StatusOK)
}

func (a *App) handleSetPageTags(c echo.Context) error {
	var req tagsRequest
	if err := bindJSON(c, "api.set_page_tags", &req); err != nil {
		return err
	}
	if err := a.Repo.SetPageTags(c.Request().Context(), c.Param("id"), FilterEmpty(req.TagIDs)); err != nil {
		return err
	}
	return a.respondPage(c, http.StatusOK)
}

func (a *App) handleCopyPage(c echo.Context) error {
	page, err := a.Repo.CopyPage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, PageView{Page: page, State: content.DisplayNew})
}

func (a *App) handleDeletePage(c echo.Context) error {
	id := c.Param("id")
	strategy, err := a.Repo.DeletePage(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deleteResponse{ID: id, Strategy: string(strategy)})
}

// handlePreviewPage renders a page the way the next publish would.
func (a *App) handlePreviewPage(c echo.Context) error {
	ctx := c.Request().Context()
	page, err := a.livePage(c, content.PageFull)
	if err != nil {
		return err
	}
	tpl, err := a.Repo.PageTemplate(ctx, page, content.TemplateAll|content.WithMarkup)
	if err != nil {
		return err
	}
	site, err := a.Repo.GetSite(ctx, content.SiteAll|content.WithAssets)
	if err != nil {
		return err
	}
	in := render.PageInput{
		Domain:        a.Config.Site.Domain,
		Site:          site,
		Page:          page,
		SiteStylesURL: "/" + content.SiteStylesPath,
	}
	if page.Article != nil {
		in.Markdown = page.Article.Markdown
	}
	if tpl.Markup != nil {
		in.HTML, in.CSS = tpl.Markup.HTML, tpl.Markup.CSS
	}
	files, err := a.renderer.RenderPageFiles(ctx, in)
	if err != nil {
		return errs.Validation("api.preview_page", "%v", err)
	}
	return Render(c, templ.Raw(files.HTML))
}

// templates

func (a *App) handleListTemplates(c echo.Context) error {
	ctx := c.Request().Context()
	tpls, err := a.Repo.ListTemplates(ctx, content.TemplateAll)
	if err != nil {
		return err
	}
	status, err := a.Generator.Status(ctx)
	if err != nil {
		return err
	}
	out := make([]TemplateView, 0, len(tpls))
	for _, t := range tpls {
		out = append(out, templateView(t, status))
	}
	return c.JSON(http.StatusOK, out)
}

func templateView(t *content.Template, status content.Status) TemplateView {
	v := TemplateView{Template: t}
	if t.Entry != nil {
		v.State = content.PublishState(t.Entry.CreatedAt, t.Entry.UpdatedAt, status)
	}
	return v
}

func (a *App) respondTemplate(c echo.Context, code int) error {
	ctx := c.Request().Context()
	tpl, err := a.Repo.GetTemplate(ctx, c.Param("id"), content.TemplateAll|content.WithMarkup)
	if err != nil {
		return err
	}
	status, err := a.Generator.Status(ctx)
	if err != nil {
		return err
	}
	return c.JSON(code, templateView(tpl, status))
}

func (a *App) handleGetTemplate(c echo.Context) error {
	return a.respondTemplate(c, http.StatusOK)
}

func (a *App) handleCreateTemplate(c echo.Context) error {
	var req repository.NewTemplate
	if err := bindJSON(c, "api.create_template", &req); err != nil {
		return err
	}
	tpl, err := a.Repo.CreateTemplate(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, TemplateView{Template: tpl, State: content.DisplayNew})
}

func (a *App) handleUpdateTemplateMeta(c echo.Context) error {
	var meta content.TemplateMeta
	if err := bindJSON(c, "api.update_template_meta", &meta); err != nil {
		return err
	}
	if err := a.Repo.UpdateTemplateMeta(c.Request().Context(), c.Param("id"), meta); err != nil {
		return err
	}
	return a.respondTemplate(c, http.StatusOK)
}

func (a *App) handleUpdateTemplateContent(c echo.Context) error {
	var tc content.TemplateContent
	if err := bindJSON(c, "api.update_template_content", &tc); err != nil {
		return err
	}
	if err := a.Repo.UpdateTemplateContent(c.Request().Context(), c.Param("id"), tc); err != nil {
		return err
	}
	return a.respondTemplate(c, http.StatusOK)
}

func (a *App) handlePutTemplateMarkup(c echo.Context) error {
	var m content.Markup
	if err := bindJSON(c, "api.put_template_markup", &m); err != nil {
		return err
	}
	if err := a.Repo.PutTemplateMarkup(c.Request().Context(), c.Param("id"), m); err != nil {
		return err
	}
	return a.respondTemplate(c, http.StatusOK)
}

func (a *App) handleCopyTemplate(c echo.Context) error {
	tpl, err := a.Repo.CopyTemplate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, TemplateView{Template: tpl, State: content.DisplayNew})
}

func (a *App) handleDeleteTemplate(c echo.Context) error {
	id := c.Param("id")
	if err := a.Repo.DeleteTemplate(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deleteResponse{ID: id})
}

// site

func (a *App) handleGetSite(c echo.Context) error {
	site, err := a.Sites.Site(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, site)
}

func (a *App) handleUpdateSiteMap(c echo.Context) error {
	var m content.SiteMap
	if err := bindJSON(c, "api.update_site_map", &m); err != nil {
		return err
	}
	if err := a.Repo.UpdateSiteMap(c.Request().Context(), m); err != nil {
		return err
	}
	return a.handleGetSite(c)
}

func (a *App) handleUpdateSiteContent(c echo.Context) error {
	var sc content.SiteContent
	if err := bindJSON(c, "api.update_site_content", &sc); err != nil {
		return err
	}
	if err := a.Repo.UpdateSiteContent(c.Request().Context(), sc); err != nil {
		return err
	}
	return a.handleGetSite(c)
}

func (a *App) handlePutPartial(c echo.Context) error {
	var req partialRequest
	if err := bindJSON(c, "api.put_partial", &req); err != nil {
		return err
	}
	if err := a.Repo.PutSitePartial(c.Request().Context(), c.Param("key"), req.Content); err != nil {
		return err
	}
	return a.handleGetSite(c)
}

func (a *App) handleDeletePartial(c echo.Context) error {
	if err := a.Repo.DeleteSitePartial(c.Request().Context(), c.Param("key")); err != nil {
		return err
	}
	return a.handleGetSite(c)
}

func (a *App) handleGetSiteAssets(c echo.Context) error {
	site, err := a.Repo.GetSite(c.Request().Context(), content.WithEntry|content.WithAssets)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, site.Assets)
}

func (a *App) handlePutSiteAssets(c echo.Context) error {
	var assets content.SiteAssets
	if err := bindJSON(c, "api.put_site_assets", &assets); err != nil {
		return err
	}
	if err := a.Repo.PutSiteAssets(c.Request().Context(), assets); err != nil {
		return err
	}
	return a.handleGetSiteAssets(c)
}

// tags

func (a *App) handleListTags(c echo.Context) error {
	tags, err := a.Repo.ListTags(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tags)
}

func (a *App) handleCreateTag(c echo.Context) error {
	var req tagRequest
	if err := bindJSON(c, "api.create_tag", &req); err != nil {
		return err
	}
	tag, err := a.Repo.CreateTag(c.Request().Context(), req.Label)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tag)
}

// publishing

func (a *App) handleGeneratorStatus(c echo.Context) error {
	status, err := a.Generator.Status(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":       status,
		"needsPublish": status.NeedsPublish(),
	})
}

func (a *App) handlePublish(c echo.Context) error {
	const op = "api.publish"
	var req publishRequest
	if c.Request().ContentLength > 0 {
		if err := bindJSON(c, op, &req); err != nil {
			return err
		}
	}
	domain := strings.TrimSpace(req.Domain)
	if domain == "" {
		domain = a.Config.Site.Domain
	}
	if domain == "" {
		return errs.Validation(op, "no domain configured")
	}
	report, err := a.Pipeline.Publish(c.Request().Context(), domain)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// assets

func (a *App) handleListAssets(c echo.Context) error {
	var out []blob.Object
	for _, prefix := range content.ReservedPrefixes {
		objs, err := a.Output.List(c.Request().Context(), prefix)
		if err != nil {
			return err
		}
		out = append(out, objs...)
	}
	if out == nil {
		out = []blob.Object{}
	}
	return c.JSON(http.StatusOK, out)
}

func (a *App) handleUploadImage(c echo.Context) error {
	const op = "api.upload_image"
	file, err := c.FormFile("image")
	if err != nil {
		return errs.Validation(op, "missing image file")
	}
	if file.Size > maxUploadSize {
		return errs.Validation(op, "image exceeds %d bytes", maxUploadSize)
	}
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	asset, err := storeImage(c.Request().Context(), a.Output, src, file.Filename, a.now())
	if err != nil {
		return errs.Validation(op, "%v", err)
	}
	return c.JSON(http.StatusCreated, asset)
}

// reservedPath validates a client-chosen output path. Clients may only
// write under the reserved prefixes, which publishing never touches.
func reservedPath(op, raw string) (string, error) {
	p := blob.CleanPath(raw)
	if p == "" || !content.IsReserved(p) {
		return "", errs.Validation(op, "path %q is not under %s", raw, strings.Join(content.ReservedPrefixes, " or "))
	}
	return p, nil
}

func (a *App) handleUploadURL(c echo.Context) error {
	const op = "api.upload_url"
	var req uploadURLRequest
	if err := bindJSON(c, op, &req); err != nil {
		return err
	}
	p, err := reservedPath(op, req.Path)
	if err != nil {
		return err
	}
	u, err := a.Output.UploadURL(c.Request().Context(), p, req.ContentHash)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, uploadURLResponse{Path: p, URL: u})
}

func (a *App) handleDeleteAsset(c echo.Context) error {
	p, err := reservedPath("api.delete_asset", wildcardPath(c))
	if err != nil {
		return err
	}
	n, err := a.Output.DeleteMany(c.Request().Context(), []string{p})
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NotFound("api.delete_asset", "asset %s not found", p)
	}
	return c.NoContent(http.StatusNoContent)
}

// uploadVerifier is implemented by buckets that issue signed upload URLs
// served by this process.
type uploadVerifier interface {
	VerifyUpload(path string, query url.Values, data []byte) error
}

// handleSignedUpload receives a direct upload to a URL issued by
// /api/assets/upload-url. The signature stands in for the session.
func (a *App) handleSignedUpload(c echo.Context) error {
	const op = "api.signed_upload"
	verifier, ok := a.Output.(uploadVerifier)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "direct uploads are not enabled")
	}
	p, err := reservedPath(op, wildcardPath(c))
	if err != nil {
		return err
	}
	data, err := readBody(c, maxUploadSize)
	if err != nil {
		return err
	}
	if err := verifier.VerifyUpload(p, c.QueryParams(), data); err != nil {
		if errors.Is(err, blob.ErrBadSignature) {
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return err
	}
	ct := c.Request().Header.Get(echo.HeaderContentType)
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	meta := map[string]string{blob.MetaContentHash: blob.ContentHash(data)}
	if err := a.Output.Put(c.Request().Context(), p, data, ct, meta); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

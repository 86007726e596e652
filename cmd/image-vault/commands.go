package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	imagevault "github.com/wolfeidau/image-vault"
	"github.com/wolfeidau/image-vault/service"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type searchCmd struct {
	Query string `arg:"" help:"Search query text."`

	Page      int      `help:"Page number." default:"1"`
	PerPage   int      `help:"Results per page." default:"20"`
	Providers []string `help:"Restrict the fan-out to these providers."`
	Exclude   []string `help:"Remove these providers from the fan-out."`
	MinWidth  int      `help:"Minimum image width in pixels."`
	MinHeight int      `help:"Minimum image height in pixels."`
	License   string   `help:"Required license name."`
}

func (c *searchCmd) Run(ctx context.Context, svc *service.Service) error {
	result, err := svc.Search(ctx, imagevault.SearchRequest{
		Query:            c.Query,
		Page:             c.Page,
		PerPage:          c.PerPage,
		Providers:        c.Providers,
		ExcludeProviders: c.Exclude,
		MinWidth:         c.MinWidth,
		MinHeight:        c.MinHeight,
		License:          c.License,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

type generateCmd struct {
	Prompt string `arg:"" help:"Generation prompt."`

	Provider string `help:"Generation provider to use." default:"openai"`
	Width    int    `help:"Requested image width." default:"1024"`
	Height   int    `help:"Requested image height." default:"1024"`
	Style    string `help:"Generation style hint."`
}

func (c *generateCmd) Run(ctx context.Context, svc *service.Service) error {
	rec, err := svc.Generate(ctx, imagevault.GenerateRequest{
		Prompt:   c.Prompt,
		Provider: c.Provider,
		Width:    c.Width,
		Height:   c.Height,
		Style:    c.Style,
	})
	if err != nil {
		return err
	}
	return printJSON(rec)
}

type uploadCmd struct {
	Path string `arg:"" type:"existingfile" help:"Image file to upload."`

	Title       string   `help:"Image title (defaults to the filename)."`
	Description string   `help:"Image description."`
	AltText     string   `help:"Accessibility alt text."`
	Keywords    []string `help:"Free-form keywords."`
}

func (c *uploadCmd) Run(ctx context.Context, svc *service.Service) error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("reading upload: %w", err)
	}

	rec, err := svc.Upload(ctx, imagevault.UploadRequest{
		Filename:     filepath.Base(c.Path),
		Title:        c.Title,
		Description:  c.Description,
		AltText:      c.AltText,
		Keywords:     c.Keywords,
		DeclaredSize: int64(len(data)),
	}, data)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

type suggestCmd struct {
	Text string `arg:"" help:"Content text to suggest images for."`

	Max int `help:"Maximum number of suggestions." default:"5"`
}

func (c *suggestCmd) Run(ctx context.Context, svc *service.Service) error {
	suggestions, err := svc.SuggestForContent(ctx, c.Text, nil, c.Max)
	if err != nil {
		return err
	}
	return printJSON(suggestions)
}

type getCmd struct {
	ID string `arg:"" help:"Image record ID."`
}

func (c *getCmd) Run(ctx context.Context, svc *service.Service) error {
	rec, err := svc.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

type deleteCmd struct {
	ID string `arg:"" help:"Image record ID."`
}

func (c *deleteCmd) Run(ctx context.Context, svc *service.Service) error {
	removed, err := svc.Delete(ctx, c.ID)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("no record with id %s\n", c.ID)
		return nil
	}
	fmt.Printf("deleted %s\n", c.ID)
	return nil
}

type listCmd struct {
	Page     int    `help:"Page number." default:"1"`
	PerPage  int    `help:"Results per page." default:"20"`
	Category string `help:"Keep only images tagged with this category."`
	Search   string `help:"Rank the listing by relevance to this text."`
	Sort     string `help:"Sort key (created, usage, title)."`
}

func (c *listCmd) Run(ctx context.Context, svc *service.Service) error {
	result, err := svc.ListCached(ctx, service.ListOptions{
		Page:       c.Page,
		PerPage:    c.PerPage,
		Category:   c.Category,
		SearchText: c.Search,
		SortKey:    c.Sort,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

type statsCmd struct{}

func (c *statsCmd) Run(ctx context.Context, svc *service.Service) error {
	return printJSON(svc.Stats())
}

type healthCmd struct{}

func (c *healthCmd) Run(ctx context.Context, svc *service.Service) error {
	return printJSON(svc.HealthCheck(ctx))
}

type dedupeCmd struct{}

func (c *dedupeCmd) Run(ctx context.Context, svc *service.Service) error {
	removed, err := svc.Deduplicate(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d redundant files\n", removed)
	return nil
}

type clearCmd struct {
	Source string `help:"Clear only this source subtree (generated, web-search, local-upload)."`
}

func (c *clearCmd) Run(ctx context.Context, svc *service.Service) error {
	var (
		removed int
		err     error
	)
	if c.Source != "" {
		removed, err = svc.ClearBySource(ctx, imagevault.SourceType(c.Source))
	} else {
		removed, err = svc.ClearAll(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Printf("removed %d entries\n", removed)
	return nil
}

type rebuildCmd struct{}

func (c *rebuildCmd) Run(ctx context.Context, svc *service.Service) error {
	entries, err := svc.RebuildIndex(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d entries\n", entries)
	return nil
}

type exportCmd struct {
	Path string `arg:"" help:"Archive file to write."`
}

func (c *exportCmd) Run(ctx context.Context, svc *service.Service) error {
	f, err := os.Create(c.Path)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	if err := svc.Export(ctx, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

type importCmd struct {
	Path string `arg:"" type:"existingfile" help:"Archive file to read."`
}

func (c *importCmd) Run(ctx context.Context, svc *service.Service) error {
	f, err := os.Open(c.Path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	imported, err := svc.Import(ctx, f)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d entries\n", imported)
	return nil
}

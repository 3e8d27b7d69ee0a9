package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/mchmarny/photoguard/pkg/data"
	"github.com/mchmarny/photoguard/pkg/moderation"
	"github.com/mchmarny/photoguard/pkg/net"
	"github.com/mchmarny/photoguard/pkg/upload"
	urfave "github.com/urfave/cli/v2"
)

var (
	ownerFlag = &urfave.StringFlag{
		Name:  "owner",
		Usage: "User ID owning the photo",
	}

	kindFlag = &urfave.StringFlag{
		Name:  "kind",
		Usage: "Photo kind [profile, message]",
	}

	conversationFlag = &urfave.StringFlag{
		Name:  "conversation",
		Usage: "Conversation ID, required for message photos",
	}

	contentTypeFlag = &urfave.StringFlag{
		Name:  "content-type",
		Usage: "Content type of the photo (default: detected)",
	}

	statusFlag = &urfave.StringFlag{
		Name:  "status",
		Usage: "Moderation status [pending, flagged]",
	}

	limitFlag = &urfave.IntFlag{
		Name:  "limit",
		Usage: "Maximum number of photos",
		Value: data.ListLimitDefault,
	}

	allFlag = &urfave.BoolFlag{
		Name:  "all",
		Usage: "Apply to all photos matching the filters",
	}

	uploadCmd = &urfave.Command{
		Name:      "upload",
		Usage:     "Classify and store a photo",
		ArgsUsage: "FILE",
		Action:    cmdUpload,
		Flags: []urfave.Flag{
			&urfave.StringFlag{Name: ownerFlag.Name, Usage: ownerFlag.Usage, Required: true},
			&urfave.StringFlag{Name: kindFlag.Name, Usage: kindFlag.Usage, Value: data.KindProfile},
			conversationFlag,
			contentTypeFlag,
			urlFlag,
			tokenFlag,
			debugFlag,
		},
	}

	listCmd = &urfave.Command{
		Name:   "list",
		Usage:  "List stored photos",
		Action: cmdList,
		Flags: []urfave.Flag{
			ownerFlag,
			kindFlag,
			conversationFlag,
			statusFlag,
			limitFlag,
			debugFlag,
		},
	}

	showCmd = &urfave.Command{
		Name:      "show",
		Usage:     "Show a single photo record",
		ArgsUsage: "ID",
		Action:    cmdShow,
		Flags:     []urfave.Flag{debugFlag},
	}

	rescanCmd = &urfave.Command{
		Name:      "rescan",
		Usage:     "Classify stored photos again with the current thresholds",
		ArgsUsage: "[ID]",
		Action:    cmdRescan,
		Flags: []urfave.Flag{
			allFlag,
			ownerFlag,
			kindFlag,
			conversationFlag,
			statusFlag,
			limitFlag,
			debugFlag,
		},
	}

	deleteCmd = &urfave.Command{
		Name:      "delete",
		Usage:     "Delete a photo and its bytes",
		ArgsUsage: "ID",
		Action:    cmdDelete,
		Flags:     []urfave.Flag{debugFlag},
	}

	stateCmd = &urfave.Command{
		Name:   "state",
		Usage:  "Print photo counts from the local database",
		Action: cmdState,
		Flags:  []urfave.Flag{debugFlag},
	}
)

func cmdUpload(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)

	svc, err := cfg.Uploads()
	if err != nil {
		return err
	}

	req := &upload.Request{
		Owner:          c.String(ownerFlag.Name),
		Kind:           c.String(kindFlag.Name),
		ConversationID: c.String(conversationFlag.Name),
		ContentType:    c.String(contentTypeFlag.Name),
	}

	switch {
	case c.String(urlFlag.Name) != "":
		token := c.String(tokenFlag.Name)
		if token == "" {
			token = cfg.FetchToken()
		}
		img, err := net.Fetch(c.Context, c.String(urlFlag.Name), token, svc.MaxSize())
		if err != nil {
			return fmt.Errorf("fetching photo: %w", err)
		}
		req.Data = img.Data
		if req.ContentType == "" {
			req.ContentType = img.ContentType
		}
	case c.Args().Len() == 1:
		b, err := os.ReadFile(c.Args().First())
		if err != nil {
			return fmt.Errorf("reading photo file: %w", err)
		}
		req.Data = b
	default:
		return errors.New("exactly one FILE or --url required")
	}

	res, err := svc.Upload(c.Context, req)
	if err != nil {
		return fmt.Errorf("uploading photo: %w", err)
	}

	return encode(c, res)
}

func criteriaFromFlags(c *urfave.Context) (*data.PhotoCriteria, error) {
	crit := &data.PhotoCriteria{
		Owner:          c.String(ownerFlag.Name),
		ConversationID: c.String(conversationFlag.Name),
		Limit:          c.Int(limitFlag.Name),
	}

	if k := c.String(kindFlag.Name); k != "" {
		kind, err := data.ParseKind(k)
		if err != nil {
			return nil, err
		}
		crit.Kind = kind
	}

	if s := c.String(statusFlag.Name); s != "" {
		status, err := moderation.ParseStatus(s)
		if err != nil {
			return nil, err
		}
		crit.Status = string(status)
	}

	return crit, nil
}

func cmdList(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)

	crit, err := criteriaFromFlags(c)
	if err != nil {
		return err
	}

	list, err := data.ListPhotos(cfg.DB, crit)
	if err != nil {
		return fmt.Errorf("listing photos: %w", err)
	}

	return encode(c, list)
}

func requireID(c *urfave.Context) (string, error) {
	if c.Args().Len() != 1 {
		return "", errors.New("photo ID required")
	}
	return c.Args().First(), nil
}

func cmdShow(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)

	id, err := requireID(c)
	if err != nil {
		return err
	}

	p, err := data.GetPhoto(cfg.DB, id)
	if err != nil {
		return fmt.Errorf("getting photo: %w", err)
	}

	return encode(c, p)
}

func cmdRescan(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)

	svc, err := cfg.Uploads()
	if err != nil {
		return err
	}

	if c.Bool(allFlag.Name) {
		crit, err := criteriaFromFlags(c)
		if err != nil {
			return err
		}
		sum, err := svc.RescanAll(c.Context, crit)
		if err != nil {
			return fmt.Errorf("rescanning photos: %w", err)
		}
		return encode(c, sum)
	}

	id, err := requireID(c)
	if err != nil {
		return fmt.Errorf("%w (or use --all)", err)
	}

	p, err := svc.Rescan(c.Context, id)
	if err != nil {
		return fmt.Errorf("rescanning photo: %w", err)
	}

	return encode(c, p)
}

func cmdDelete(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)

	id, err := requireID(c)
	if err != nil {
		return err
	}

	svc, err := cfg.Uploads()
	if err != nil {
		return err
	}

	if err := svc.Delete(c.Context, id); err != nil {
		return fmt.Errorf("deleting photo: %w", err)
	}

	return encode(c, map[string]string{"deleted": id})
}

func cmdState(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)

	state, err := data.GetDataState(cfg.DB)
	if err != nil {
		return fmt.Errorf("getting data state: %w", err)
	}

	return encode(c, state)
}

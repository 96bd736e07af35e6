package box

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/openmined/figaro/internal/remote"
)

// ListItems pages through /folders/{id}/items with marker pagination, since
// Box rejects offsets past 10000. Web links and other item types are not part
// of the synced tree and are left out.
func (c *Client) ListItems(ctx context.Context, folderID string) ([]remote.Item, error) {
	var items []remote.Item
	marker := ""

	for {
		params := map[string]string{
			"fields":    "id,type,name",
			"limit":     strconv.Itoa(c.pageSize),
			"usemarker": "true",
		}
		if marker != "" {
			params["marker"] = marker
		}

		var page itemCollection
		var apiErr apiError
		resp, err := c.api.R().
			SetContext(ctx).
			SetPathParam("id", folderID).
			SetQueryParams(params).
			SetSuccessResult(&page).
			SetErrorResult(&apiErr).
			Get("/folders/{id}/items")
		if err := check(resp, err, &apiErr, "list_items", folderID); err != nil {
			return nil, err
		}

		for _, e := range page.Entries {
			switch e.Type {
			case typeFolder:
				items = append(items, remote.Item{ID: e.ID, Name: e.Name, Kind: remote.KindFolder})
			case typeFile:
				items = append(items, remote.Item{ID: e.ID, Name: e.Name, Kind: remote.KindFile})
			default:
				slog.Debug("box list skip", "folder", folderID, "name", e.Name, "type", e.Type)
			}
		}

		if page.NextMarker == "" {
			return items, nil
		}
		marker = page.NextMarker
	}
}

// CreateSubfolder creates name under parentID. When Box reports the name as
// taken by a folder, that folder is returned instead.
func (c *Client) CreateSubfolder(ctx context.Context, parentID, name string) (*remote.Ref, error) {
	var created itemEntry
	var apiErr apiError
	resp, err := c.api.R().
		SetContext(ctx).
		SetQueryParam("fields", "id,type,name").
		SetBody(&createFolderRequest{Name: name, Parent: parentRef{ID: parentID}}).
		SetSuccessResult(&created).
		SetErrorResult(&apiErr).
		Post("/folders")

	err = check(resp, err, &apiErr, "create_subfolder", parentID)
	if err == nil {
		return &remote.Ref{ID: created.ID, Name: created.Name}, nil
	}

	if errors.Is(err, remote.ErrConflict) && apiErr.Code == codeNameInUse {
		for _, conflict := range apiErr.conflicts() {
			if conflict.Type == typeFolder && conflict.ID != "" {
				slog.Info("box folder exists", "parent", parentID, "name", name, "id", conflict.ID)
				return &remote.Ref{ID: conflict.ID, Name: name}, nil
			}
		}
	}
	return nil, err
}

// Package notify decides who hears about work package changes and hands
// the notifications to a deliverer.
package notify

import (
	"context"
	"errors"
	"sort"

	"github.com/psantana5/tracker/pkg/logging"
	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/store"
)

// Recipient reasons, most specific first
const (
	ReasonAuthor      = "author"
	ReasonAssignee    = "assignee"
	ReasonResponsible = "responsible"
	ReasonWatcher     = "watcher"
)

// Store is the data recipients are resolved from
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetPreference(ctx context.Context, userID int64) (*models.Preference, error)
	ListWatchers(ctx context.Context, workPackageID int64) ([]int64, error)
}

// Authorizer answers project permission questions
type Authorizer interface {
	AllowedTo(ctx context.Context, user *models.User, perm models.Permission, projectID int64) (bool, error)
}

// Recorder counts deliveries
type Recorder interface {
	RecordNotification(reason string)
}

// Notification is one message to one user
type Notification struct {
	Recipient   *models.User
	Reason      string
	Actor       *models.User
	WorkPackage *models.WorkPackage
	Created     bool
}

// Deliverer sends notifications
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogDeliverer writes notifications to the log
type LogDeliverer struct {
	logger *logging.Logger
}

// NewLogDeliverer creates a deliverer that only logs
func NewLogDeliverer(logger *logging.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger}
}

// Deliver logs the notification
func (d *LogDeliverer) Deliver(ctx context.Context, n Notification) error {
	event := "updated"
	if n.Created {
		event = "created"
	}
	d.logger.Info("Work package notification", map[string]interface{}{
		"recipient_id":    n.Recipient.ID,
		"recipient_mail":  n.Recipient.Mail,
		"reason":          n.Reason,
		"event":           event,
		"work_package_id": n.WorkPackage.ID,
		"subject":         n.WorkPackage.Subject,
	})
	return nil
}

// Notifier resolves recipients and delivers
type Notifier struct {
	store     Store
	auth      Authorizer
	deliverer Deliverer
	recorder  Recorder
	logger    *logging.Logger
}

// New creates a notifier. A nil deliverer logs notifications.
func New(store Store, auth Authorizer, deliverer Deliverer, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Nop()
	}
	if deliverer == nil {
		deliverer = NewLogDeliverer(logger)
	}
	return &Notifier{store: store, auth: auth, deliverer: deliverer, logger: logger}
}

// SetRecorder sets where deliveries are counted
func (n *Notifier) SetRecorder(r Recorder) { n.recorder = r }

// Recipients returns who should be told about a change of wp made by actor,
// ordered by user id
func (n *Notifier) Recipients(ctx context.Context, actor *models.User, wp *models.WorkPackage) ([]Notification, error) {
	reasons := map[int64]string{}
	add := func(id int64, reason string) {
		if id == 0 {
			return
		}
		if _, ok := reasons[id]; !ok {
			reasons[id] = reason
		}
	}
	add(wp.AuthorID, ReasonAuthor)
	if wp.AssigneeID != nil {
		add(*wp.AssigneeID, ReasonAssignee)
	}
	if wp.ResponsibleID != nil {
		add(*wp.ResponsibleID, ReasonResponsible)
	}
	watchers, err := n.store.ListWatchers(ctx, wp.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	for _, id := range watchers {
		add(id, ReasonWatcher)
	}

	ids := make([]int64, 0, len(reasons))
	for id := range reasons {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []Notification
	for _, id := range ids {
		user, err := n.store.GetUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !user.IsActive() || !WantsNotification(user, wp) {
			continue
		}
		if actor != nil && user.ID == actor.ID {
			pref, err := n.store.GetPreference(ctx, user.ID)
			if err != nil {
				return nil, err
			}
			if pref.NoSelfNotified {
				continue
			}
		}
		canView, err := n.auth.AllowedTo(ctx, user, models.PermViewWorkPackages, wp.ProjectID)
		if err != nil {
			return nil, err
		}
		if !canView {
			continue
		}
		out = append(out, Notification{Recipient: user, Reason: reasons[id], Actor: actor, WorkPackage: wp})
	}
	return out, nil
}

// WantsNotification applies the user's mail notification mode to wp
func WantsNotification(user *models.User, wp *models.WorkPackage) bool {
	author := wp.AuthorID == user.ID
	assigned := wp.IsAssignedTo(user.ID) || wp.IsResponsible(user.ID)

	switch user.MailNotification {
	case models.MailNotificationAll, "":
		return true
	case models.MailNotificationSelected:
		for _, id := range user.NotifiedProjectIDs {
			if id == wp.ProjectID {
				return true
			}
		}
		return author || assigned
	case models.MailNotificationOnlyMyEvents:
		return author || assigned
	case models.MailNotificationOnlyAssigned:
		return assigned
	case models.MailNotificationOnlyOwner:
		return author
	}
	return false
}

// WorkPackageSaved notifies every recipient. Delivery failures are logged
// and do not stop the remaining deliveries.
func (n *Notifier) WorkPackageSaved(ctx context.Context, actor *models.User, wp *models.WorkPackage, created bool) error {
	recipients, err := n.Recipients(ctx, actor, wp)
	if err != nil {
		return err
	}
	var firstErr error
	for _, r := range recipients {
		r.Created = created
		if err := n.deliverer.Deliver(ctx, r); err != nil {
			n.logger.Error("Failed to deliver notification", map[string]interface{}{
				"recipient_id":    r.Recipient.ID,
				"work_package_id": wp.ID,
				"error":           err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if n.recorder != nil {
			n.recorder.RecordNotification(r.Reason)
		}
	}
	return firstErr
}

package cache

import "context"

// MarkSongListened records one listen report and returns whether it should be
// counted as a completed listen. The first report of the day only arms the
// key, the second completes it, and later reports are no-ops that keep
// returning true.
func MarkSongListened(ctx context.Context, s *Service, key YoutubeMusicSongListenedKey) (bool, error) {
	item, ok, err := GetValue(ctx, s, key)
	if err != nil {
		return false, err
	}

	switch {
	case !ok:
		_, err = SetKey(ctx, s, key, SongListened{IsComplete: false})
		return false, err
	case !item.Value.IsComplete:
		_, err = SetKey(ctx, s, key, SongListened{IsComplete: true})
		return err == nil, err
	default:
		return true, nil
	}
}

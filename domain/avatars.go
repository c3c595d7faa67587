package domain

// avatarCatalog is the closed set of selectable profile images
var avatarCatalog = []AvatarOption{
	{ID: "avatar1", URL: "https://img1.hotstarext.com/image/upload/w_200,h_200,c_fill/feature/profile/21.png", Name: "Abstract Blue"},
	{ID: "avatar2", URL: "https://img1.hotstarext.com/image/upload/w_200,h_200,c_fill/feature/profile/2.png", Name: "Abstract Green"},
	{ID: "avatar3", URL: "https://picsum.photos/200/200?random=1", Name: "Random Nature"},
	{ID: "avatar4", URL: "https://picsum.photos/200/200?random=2", Name: "Geometric Shapes"},
	{ID: "avatar5", URL: "https://picsum.photos/200/200?random=3", Name: "City Lights"},
	{ID: "avatar6", URL: "https://picsum.photos/200/200?random=4", Name: "Mountain Peak"},
	{ID: "avatar7", URL: "https://picsum.photos/200/200?random=5", Name: "Ocean Wave"},
	{ID: "avatar8", URL: "https://picsum.photos/200/200?random=6", Name: "Forest Path"},
}

// Avatars returns a copy of the catalog in display order
func Avatars() []AvatarOption {
	out := make([]AvatarOption, len(avatarCatalog))
	copy(out, avatarCatalog)
	return out
}

// ResolveAvatar accepts a catalog id or catalog URL and returns the catalog entry
func ResolveAvatar(ref string) (AvatarOption, error) {
	for _, a := range avatarCatalog {
		if ref == a.ID || ref == a.URL {
			return a, nil
		}
	}
	return AvatarOption{}, ErrInvalidAvatar
}

package forms

// Merge applies an incoming partial payload to the stored document and
// returns the next materialized document. Fields the client omitted keep
// their stored value, image lists are replaced only when files were uploaded
// in this request, and a supplied manager list replaces the stored one as a
// whole.
func Merge(stored FormData, incoming PartialFormData, uploads Uploads) FormData {
	next := stored.Clone()

	if a := incoming.SectionA; a != nil {
		overwrite(&next.SectionA.CompanyName, a.CompanyName)
		overwrite(&next.SectionA.Facebook, a.Facebook)
		overwrite(&next.SectionA.Instagram, a.Instagram)
		overwrite(&next.SectionA.Twitter, a.Twitter)
		overwrite(&next.SectionA.Other, a.Other)
		overwrite(&next.SectionA.RoomDetails, a.RoomDetails)
		overwrite(&next.SectionA.CashoutLimit, a.CashoutLimit)
		overwrite(&next.SectionA.MinDeposit, a.MinDeposit)
		overwrite(&next.SectionA.TelegramPhone, a.TelegramPhone)
		overwrite(&next.SectionA.ScheduleOption, a.ScheduleOption)
		overwrite(&next.SectionA.CustomSchedule, a.CustomSchedule)
		overwrite(&next.SectionA.DesignReferenceText, a.DesignReferenceText)
		if a.LogoOption != nil {
			next.SectionA.LogoOption = LogoOption(*a.LogoOption)
			if next.SectionA.LogoOption == "" {
				next.SectionA.LogoOption = LogoNone
			}
		}
	}

	if uploads.Logos != nil {
		next.SectionA.UploadedLogos = cloneStrings(uploads.Logos)
	}
	if uploads.References != nil {
		next.SectionA.DesignReferenceImages = cloneStrings(uploads.References)
	}

	if incoming.SectionB != nil {
		next.SectionB = incoming.SectionB.Clone()
		if next.SectionB.Managers == nil {
			next.SectionB.Managers = []Manager{}
		}
	}

	return next
}

// Build materializes the first version of a form from a full submission.
func Build(incoming PartialFormData, uploads Uploads) FormData {
	return Merge(FormData{}.Normalize(), incoming, uploads).Normalize()
}

func overwrite(target *string, value *string) {
	if value != nil {
		*target = *value
	}
}

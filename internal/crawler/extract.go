package crawler

import "fmt"

// Page-side extraction scripts. Each returns a JSON-serializable value that
// chromedp unmarshals into the matching Go struct. Heuristics mirror what
// the detectors need: anchors for the classic phase, forms and consent
// candidates for the rule checks, and clickable candidates for SPA route
// discovery.

const linksScript = `
(() => {
	const links = [];
	document.querySelectorAll('a[href]').forEach(a => {
		links.push(a.href);
	});
	return links;
})()`

const formsScript = `
(() => {
	const forms = [];
	document.querySelectorAll('form').forEach(form => {
		const fields = [];
		form.querySelectorAll('input, select, textarea').forEach(input => {
			fields.push({
				type: input.type || input.tagName.toLowerCase(),
				name: input.name || '',
				id: input.id || '',
				required: !!input.required,
				placeholder: input.placeholder || '',
			});
		});
		forms.push({
			action: form.action || '',
			method: form.method || '',
			id: form.id || '',
			fields: fields,
		});
	});
	return forms;
})()`

const consentScript = `
(() => {
	const elements = [];
	const cssPath = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		const parts = [];
		while (el && el.nodeType === Node.ELEMENT_NODE && parts.length < 6) {
			let part = el.tagName.toLowerCase();
			const parent = el.parentElement;
			if (parent) {
				const siblings = Array.from(parent.children).filter(c => c.tagName === el.tagName);
				if (siblings.length > 1) part += ':nth-of-type(' + (siblings.indexOf(el) + 1) + ')';
			}
			parts.unshift(part);
			el = parent;
		}
		return parts.join(' > ');
	};

	document.querySelectorAll('input[type="checkbox"]').forEach(cb => {
		const label = (cb.labels && cb.labels[0] ? cb.labels[0].textContent : '') || '';
		const nearby = (cb.parentElement ? cb.parentElement.textContent : '') || '';
		const haystack = (label + ' ' + nearby).toLowerCase();
		if (haystack.includes('consent') || haystack.includes('agree') ||
			haystack.includes('privacy') || haystack.includes('terms')) {
			elements.push({
				kind: 'checkbox',
				selector: cssPath(cb),
				id: cb.id || '',
				name: cb.name || '',
				label: label.trim(),
				checked: cb.checked,
				pre_checked: cb.hasAttribute('checked'),
				required: !!cb.required,
				visible: cb.offsetParent !== null,
			});
		}
	});

	const bannerSelectors = [
		'[class*="cookie"]', '[class*="consent"]', '[id*="cookie"]',
		'[id*="consent"]', '[class*="gdpr"]', '[class*="privacy"]',
	];
	bannerSelectors.forEach(sel => {
		document.querySelectorAll(sel).forEach(el => {
			if (el.offsetHeight > 0) {
				elements.push({
					kind: 'banner',
					selector: sel,
					text: el.textContent.substring(0, 500),
					visible: true,
				});
			}
		});
	});

	document.querySelectorAll('button, [role="button"]').forEach(btn => {
		const text = (btn.textContent || '').toLowerCase();
		if (text.includes('accept') || text.includes('agree') || text.includes('consent') ||
			text.includes('reject') || text.includes('decline') ||
			text.includes('manage') || text.includes('preferences')) {
			elements.push({
				kind: 'button',
				selector: cssPath(btn),
				id: btn.id || '',
				text: btn.textContent.trim().substring(0, 200),
				visible: btn.offsetParent !== null,
			});
		}
	});

	return elements;
})()`

// navElementsScript collects visible clickable candidates, excluding actions
// that mutate state or leave the session (login, logout, delete and the
// like). Each candidate carries a CSS path stable enough to re-click after a
// route change.
const navElementsScript = `
(() => {
	const out = [];
	const seen = new Set();
	const excluded = /log\s*out|log\s*in|sign\s*out|sign\s*in|submit|delete|remove|search|download|upload|cancel|close/i;
	const cssPath = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		const parts = [];
		let cur = el;
		while (cur && cur.nodeType === Node.ELEMENT_NODE && parts.length < 8) {
			let part = cur.tagName.toLowerCase();
			const parent = cur.parentElement;
			if (parent) {
				const siblings = Array.from(parent.children).filter(c => c.tagName === cur.tagName);
				if (siblings.length > 1) part += ':nth-of-type(' + (siblings.indexOf(cur) + 1) + ')';
			}
			parts.unshift(part);
			cur = parent;
		}
		return parts.join(' > ');
	};

	const candidates = document.querySelectorAll(
		'a, button, [role="menuitem"], [role="tab"], [role="button"], nav li, .nav-item, .menu-item, .sidebar-item'
	);
	candidates.forEach(el => {
		if (el.offsetParent === null) return;
		const text = (el.textContent || '').trim().replace(/\s+/g, ' ').substring(0, 80);
		if (!text || excluded.test(text)) return;
		if (el.tagName === 'A' && el.getAttribute('href') &&
			!el.getAttribute('href').startsWith('#') &&
			!el.getAttribute('href').startsWith('javascript:')) {
			return; // plain hyperlink, classic phase already follows it
		}
		const sel = cssPath(el);
		if (seen.has(sel)) return;
		seen.add(sel);
		out.push({ selector: sel, text: text, tag: el.tagName.toLowerCase() });
	});
	return out;
})()`

// toggleCandidatesScript finds collapsed menu/sidebar toggles worth clicking
// before nav discovery: hamburger buttons, aria-expanded=false controls,
// collapse triggers.
const toggleCandidatesScript = `
(() => {
	const out = [];
	const seen = new Set();
	const cssPath = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		const parts = [];
		let cur = el;
		while (cur && cur.nodeType === Node.ELEMENT_NODE && parts.length < 8) {
			let part = cur.tagName.toLowerCase();
			const parent = cur.parentElement;
			if (parent) {
				const siblings = Array.from(parent.children).filter(c => c.tagName === cur.tagName);
				if (siblings.length > 1) part += ':nth-of-type(' + (siblings.indexOf(cur) + 1) + ')';
			}
			parts.unshift(part);
			cur = parent;
		}
		return parts.join(' > ');
	};
	document.querySelectorAll(
		'[aria-expanded="false"], .navbar-toggler, .hamburger, [data-toggle="collapse"], [data-bs-toggle="collapse"], .menu-toggle, .sidebar-toggle'
	).forEach(el => {
		if (el.offsetParent === null) return;
		const sel = cssPath(el);
		if (seen.has(sel)) return;
		seen.add(sel);
		out.push(sel);
	});
	return out;
})()`

const frameworkProbeScript = `
(() => {
	if (window.__NEXT_DATA__) return 'next';
	if (window.angular || window.getAllAngularRootElements || document.querySelector('[ng-version]')) return 'angular';
	if (document.querySelector('[data-reactroot]') || window.__REACT_DEVTOOLS_GLOBAL_HOOK__) return 'react';
	if (window.__VUE__ || document.querySelector('[data-v-app]') || window.Vue) return 'vue';
	return '';
})()`

// angularStableScript reports whether Angular's testabilities consider the
// page stable; used as the framework-specific settle signal.
const angularStableScript = `
(() => {
	try {
		if (window.getAllAngularTestabilities) {
			return window.getAllAngularTestabilities().every(t => t.isStable());
		}
	} catch (e) {}
	return true;
})()`

const loginErrorScript = `
(() => {
	const out = [];
	document.querySelectorAll('[class*="error"], [class*="alert"], [role="alert"], .invalid-feedback').forEach(el => {
		const text = (el.textContent || '').trim();
		if (text && el.offsetParent !== null) out.push(text.substring(0, 200));
	});
	return out;
})()`

func visibleScript(selector string) string {
	return fmt.Sprintf(`
(() => {
	const el = document.querySelector(%q);
	return !!el && el.offsetParent !== null;
})()`, selector)
}
